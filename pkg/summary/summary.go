// Package summary implements the per-dataset summary file: the
// durable record, written once a dataset's files are confirmed
// complete, of every rank's file list and Meta, sharded across a
// rank2file tree so that a job with many thousands of ranks never
// forces a single oversized file read.
package summary

import (
	"sort"
	"strconv"

	"github.com/LLNL/scr-sub002/pkg/dataset"
	"github.com/LLNL/scr-sub002/pkg/filemap"
	"github.com/LLNL/scr-sub002/pkg/kvtree"
	"github.com/LLNL/scr-sub002/pkg/meta"
)

const (
	keyVersion   = "VERSION"
	keyComplete  = "COMPLETE"
	keyRanks     = "RANKS"
	keyRank2File = "RANK2FILE"
	keyRank      = "RANK"
	keyFiles     = "FILES"
	keyFile      = "FILE"
	keyName      = "NAME"
	keyMeta      = "META"
	keyDataset   = "DATASET"
)

// Version is the only summary file format version this library
// writes or accepts.
const Version = 6

// FileEntry names one file a rank contributed to a dataset, alongside
// its Meta record.
type FileEntry struct {
	Name string
	Meta *meta.Meta
}

// Summary is a thin wrapper over a kvtree.Tree implementing the
// per-dataset summary file: a VERSION stamp, a COMPLETE flag, the
// total rank count, and the RANK2FILE tree mapping each rank to its
// file list.
type Summary struct {
	tree *kvtree.Tree
}

// New returns an empty Summary stamped with Version.
func New() *Summary {
	s := &Summary{tree: kvtree.New()}
	s.tree.SetInt64(keyVersion, Version)
	return s
}

// FromTree wraps an existing tree as a Summary, without copying it.
func FromTree(t *kvtree.Tree) *Summary {
	if t == nil {
		t = kvtree.New()
	}
	return &Summary{tree: t}
}

// Tree returns the underlying kvtree.Tree.
func (s *Summary) Tree() *kvtree.Tree { return s.tree }

// SetComplete marks whether every rank's files were confirmed present
// when this summary was built.
func (s *Summary) SetComplete(v bool) *Summary {
	n := int64(0)
	if v {
		n = 1
	}
	s.tree.SetInt64(keyComplete, n)
	return s
}

// Complete reports the COMPLETE flag.
func (s *Summary) Complete() bool {
	v, ok := s.tree.GetInt64(keyComplete)
	return ok && v != 0
}

// SetRankCount records the total number of ranks in the job that
// produced this dataset (max rank id + 1), independent of how many of
// those ranks actually have an entry in RANK2FILE.
func (s *Summary) SetRankCount(n int) *Summary {
	s.tree.SetInt64(keyRanks, int64(n))
	return s
}

// RankCount returns the recorded total rank count, or 0 if unset.
func (s *Summary) RankCount() int {
	v, _ := s.tree.GetInt64(keyRanks)
	return int(v)
}

// SetDataset embeds ds's descriptor in the summary, the way a
// dataset directory's own summary file carries enough identity (its
// id, name, completeness) for a later scr-index --add to recognize
// the directory without needing the control directory that produced
// it.
func (s *Summary) SetDataset(ds *dataset.Dataset) *Summary {
	s.tree.Set(keyDataset, ds.Tree().Dup())
	return s
}

// Dataset returns the embedded dataset descriptor, if one was set.
func (s *Summary) Dataset() (*dataset.Dataset, bool) {
	t := s.tree.Child(keyDataset)
	if t == nil {
		return nil, false
	}
	return dataset.FromTree(t.Dup()), true
}

func (s *Summary) rank2file() *kvtree.Tree {
	return s.tree.EnsureChild(keyRank2File)
}

// SetRankFiles records rank's file list.
func (s *Summary) SetRankFiles(rank int, files []FileEntry) {
	node := s.rank2file().EnsureChild(keyRank).EnsureChild(strconv.Itoa(rank))
	node.SetInt64(keyFiles, int64(len(files)))
	list := node.EnsureChild(keyFile)
	for i, f := range files {
		entry := list.EnsureChild(strconv.Itoa(i))
		entry.SetStr(keyName, f.Name)
		entry.Set(keyMeta, f.Meta.Tree().Dup())
	}
}

// RankFiles returns rank's recorded file list.
func (s *Summary) RankFiles(rank int) ([]FileEntry, bool) {
	r2f := s.tree.Child(keyRank2File)
	if r2f == nil {
		return nil, false
	}
	rankHash := r2f.Child(keyRank)
	if rankHash == nil {
		return nil, false
	}
	node := rankHash.Child(strconv.Itoa(rank))
	if node == nil {
		return nil, false
	}
	n, _ := node.GetInt64(keyFiles)
	list := node.Child(keyFile)
	out := make([]FileEntry, 0, n)
	for i := int64(0); i < n; i++ {
		entry := list.Child(strconv.FormatInt(i, 10))
		if entry == nil {
			continue
		}
		name, _ := entry.GetStr(keyName)
		m := entry.Child(keyMeta)
		out = append(out, FileEntry{Name: name, Meta: meta.FromTree(m.Dup())})
	}
	return out, true
}

// Ranks returns every rank recorded in RANK2FILE, ascending.
func (s *Summary) Ranks() []int {
	r2f := s.tree.Child(keyRank2File)
	if r2f == nil {
		return nil
	}
	rankHash := r2f.Child(keyRank)
	if rankHash == nil {
		return nil
	}
	var ranks []int
	for _, k := range rankHash.Keys() {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		ranks = append(ranks, n)
	}
	sort.Ints(ranks)
	return ranks
}

// BuildFromFileMap gathers every rank's file list and Meta for
// dataset dset out of fm into a new Summary, marking it complete iff
// every one of those ranks' files passes FileMap.HaveFiles.
func BuildFromFileMap(fm *filemap.FileMap, dset int, isComplete func(dset, rank int) bool) *Summary {
	s := New()

	ranks := fm.RanksForDataset(dset)
	complete := true
	maxRank := -1
	for _, rank := range ranks {
		if rank > maxRank {
			maxRank = rank
		}
		names := fm.ListFiles(dset, rank)
		files := make([]FileEntry, 0, len(names))
		for _, name := range names {
			m, ok := fm.GetMeta(dset, rank, name)
			if !ok {
				m = meta.New()
			}
			files = append(files, FileEntry{Name: name, Meta: m})
		}
		s.SetRankFiles(rank, files)

		if isComplete != nil && !isComplete(dset, rank) {
			complete = false
		}
	}

	s.SetRankCount(maxRank + 1)
	s.SetComplete(complete)
	return s
}
