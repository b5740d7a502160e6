package summary

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/dataset"
	"github.com/LLNL/scr-sub002/pkg/kvtree"
	"github.com/LLNL/scr-sub002/pkg/meta"
	"github.com/LLNL/scr-sub002/pkg/rio"
)

// ShardSize is the maximum number of rank entries written into a
// single rank2file shard, mirroring the original's hard-coded 8192.
const ShardSize = 8192

// MetaDirName is the subdirectory of a dataset directory that holds
// its summary.scr, rank2file index, and shards, keeping them out of
// the application's own flushed files.
const MetaDirName = ".scr"

const (
	indexFileName   = "rank2file.scr"
	summaryFileName = "summary.scr"

	keyLevel  = "LEVEL"
	keyOffset = "OFFSET"

	datasetDirPrefix = "scr.dataset."
)

func shardName(writer int) string {
	return fmt.Sprintf("rank2file.0.%d.scr", writer)
}

// WriteSharded writes s into metaDir as a summary.scr file plus a
// rank2file.scr index over one or more rank2file.0.<writer>.scr
// shards, each holding at most ShardSize ranks. This mirrors
// scr_summary_write's two-level rank2file layout: a top-level index
// (LEVEL=1) naming each shard file, and the shards themselves
// (LEVEL=0) holding the actual per-rank file lists.
func WriteSharded(metaDir string, s *Summary) error {
	ranks := s.Ranks()

	index := kvtree.New()
	index.SetInt64(keyLevel, 1)

	writer := 0
	maxRank := -1
	for start := 0; start < len(ranks); start += ShardSize {
		end := start + ShardSize
		if end > len(ranks) {
			end = len(ranks)
		}
		chunk := ranks[start:end]

		shard := kvtree.New()
		shard.SetInt64(keyLevel, 0)
		for _, r := range chunk {
			if r > maxRank {
				maxRank = r
			}
			files, _ := s.RankFiles(r)
			node := shard.EnsureChild(keyRank).EnsureChild(strconv.Itoa(r))
			node.SetInt64(keyFiles, int64(len(files)))
			list := node.EnsureChild(keyFile)
			for i, f := range files {
				entry := list.EnsureChild(strconv.Itoa(i))
				entry.SetStr(keyName, f.Name)
				entry.Set(keyMeta, f.Meta.Tree().Dup())
			}
		}
		shard.SetInt64(keyRanks, int64(len(chunk)))

		name := shardName(writer)
		if err := kvtree.WriteText(filepath.Join(metaDir, name), shard); err != nil {
			return errors.Wrapf(err, "summary: write shard %s", name)
		}

		entry := index.EnsureChild(keyRank).EnsureChild(strconv.Itoa(writer))
		entry.SetStr(keyFile, name)
		entry.SetInt64(keyOffset, 0)

		writer += len(chunk)
	}
	index.SetInt64(keyRanks, int64(maxRank+1))

	if err := kvtree.WriteText(filepath.Join(metaDir, indexFileName), index); err != nil {
		return errors.Wrap(err, "summary: write rank2file index")
	}

	summaryTree := s.tree.Dup()
	summaryTree.Unset(keyRank2File)
	if err := kvtree.WriteText(filepath.Join(metaDir, summaryFileName), summaryTree); err != nil {
		return errors.Wrap(err, "summary: write summary file")
	}
	return nil
}

// ReadSharded reads the summary written by WriteSharded back out of
// metaDir, reassembling every shard's rank entries into one Summary.
// If summary.scr carries no RANKS count, the one the rank2file index
// recorded is used.
func ReadSharded(metaDir string) (*Summary, error) {
	summaryTree, err := kvtree.ReadText(filepath.Join(metaDir, summaryFileName))
	if err != nil {
		return nil, errors.Wrap(err, "summary: read summary file")
	}

	index, err := kvtree.ReadText(filepath.Join(metaDir, indexFileName))
	if err != nil {
		return nil, errors.Wrap(err, "summary: read rank2file index")
	}

	if _, ok := summaryTree.GetInt64(keyRanks); !ok {
		if n, ok := index.GetInt64(keyRanks); ok {
			summaryTree.SetInt64(keyRanks, n)
		}
	}

	rankHash := summaryTree.EnsureChild(keyRank2File).EnsureChild(keyRank)
	if writers := index.Child(keyRank); writers != nil {
		for _, writerKey := range writers.Keys() {
			entry := writers.Child(writerKey)
			name, ok := entry.GetStr(keyFile)
			if !ok {
				continue
			}
			shard, err := kvtree.ReadText(filepath.Join(metaDir, name))
			if err != nil {
				return nil, errors.Wrapf(err, "summary: read shard %s", name)
			}
			if shardRanks := shard.Child(keyRank); shardRanks != nil {
				rankHash.Merge(shardRanks)
			}
		}
	}

	return FromTree(summaryTree), nil
}

// ParseDatasetDirName extracts the dataset id out of a directory name
// following the "scr.dataset.<id>" convention cmd/scr-copy writes
// (see datasetDirName there). ok is false for any other name.
func ParseDatasetDirName(name string) (id int, ok bool) {
	suffix, found := strings.CutPrefix(name, datasetDirPrefix)
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// BuildFromDataDir reconstructs a Summary directly from a dataset
// directory's own flushed files when its summary.scr is missing,
// mirroring scr_summary_build's fallback to scanning the directory
// itself. A bare directory scan has no File Map to attribute files to
// individual ranks, so every file found is recorded under a single
// synthetic rank 0; the dataset id comes from the directory's own
// "scr.dataset.<id>" name, the one piece of identity that survives
// even with the summary gone.
func BuildFromDataDir(dir string) (*Summary, error) {
	id, ok := ParseDatasetDirName(filepath.Base(dir))
	if !ok {
		return nil, errors.Errorf("summary: %s is not a scr.dataset.<id> directory, can't infer its dataset id", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "summary: scan %s", dir)
	}

	var files []FileEntry
	for _, e := range entries {
		if e.IsDir() || e.Name() == MetaDirName {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "summary: stat %s", e.Name())
		}
		path := filepath.Join(dir, e.Name())
		crc, err := rio.CRC32(path)
		if err != nil {
			return nil, errors.Wrapf(err, "summary: crc %s", path)
		}
		m := meta.New().
			SetName(e.Name()).
			SetPath(e.Name()).
			SetSize(info.Size()).
			SetCRC(crc).
			SetType(meta.TypeUser).
			SetComplete(true).
			SetRank(0)
		files = append(files, FileEntry{Name: e.Name(), Meta: m})
	}

	complete := len(files) > 0
	s := New()
	s.SetRankFiles(0, files)
	s.SetRankCount(1)
	s.SetComplete(complete)
	s.SetDataset(dataset.New().SetID(int64(id)).SetComplete(complete))
	return s, nil
}
