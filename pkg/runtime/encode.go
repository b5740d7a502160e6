package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/filemap"
	"github.com/LLNL/scr-sub002/pkg/kvtree"
	"github.com/LLNL/scr-sub002/pkg/meta"
	"github.com/LLNL/scr-sub002/pkg/redundancy"
	"github.com/LLNL/scr-sub002/pkg/rio"
	"github.com/LLNL/scr-sub002/pkg/scavenge"
)

// encodeDataset applies scheme to dset's files, wiring pkg/redundancy
// against every set member's File Map and cache files read off the
// shared cache root (the assumption pkg/redundancy.EncodeXOR's own doc
// comment names: reachable either because the cache filesystem is
// actually shared, or because this process is the one coordinating
// every rank's store).
func (rt *Runtime) encodeDataset(dset int, scheme redundancy.Variant) error {
	switch scheme {
	case redundancy.VariantSingle, "":
		return nil
	case redundancy.VariantXOR:
		return rt.encodeXOR(dset)
	case redundancy.VariantPartner:
		return rt.encodePartner(dset)
	default:
		return errors.Wrapf(ErrUnknownScheme, "%q", scheme)
	}
}

// partitionRanks splits [0, total) into contiguous chunks of setSize
// members (the last chunk takes the remainder). setSize < 2 or
// greater than total means "one set covering the whole group".
func partitionRanks(total, setSize int) [][]int {
	if setSize < 2 || setSize > total {
		setSize = total
	}
	var sets [][]int
	for start := 0; start < total; start += setSize {
		end := start + setSize
		if end > total {
			end = total
		}
		chunk := make([]int, 0, end-start)
		for r := start; r < end; r++ {
			chunk = append(chunk, r)
		}
		sets = append(sets, chunk)
	}
	return sets
}

func indexOfRank(ranks []int, rank int) int {
	for i, r := range ranks {
		if r == rank {
			return i
		}
	}
	return -1
}

// setMemberDesc records desc under (dset, rank) in rank's File Map:
// this rank's own live copy if rank is rt.rank, otherwise its
// persisted snapshot read and rewritten in place on the shared cache
// root.
func (rt *Runtime) setMemberDesc(rank, dset int, desc *kvtree.Tree) error {
	if rank == rt.rank {
		rt.fm.SetDesc(dset, rank, desc)
		return nil
	}
	path := rt.rankFileMapPath(rank)
	mfm, err := filemap.Read(path)
	if err != nil {
		return err
	}
	mfm.SetDesc(dset, rank, desc)
	return filemap.Write(path, mfm)
}

// mergedFileMapForSet returns a FileMap covering every member of the
// redundancy set rt.rank belongs to for dset, by merging this rank's
// own live copy with its set partners' persisted snapshots. Scan and
// GroupBySet need every set member's Descriptor and file list in one
// FileMap to reconstruct a missing member; a single rank's own
// snapshot only ever records its own entries.
func (rt *Runtime) mergedFileMapForSet(dset int) (*filemap.FileMap, error) {
	merged := rt.fm.Dup()
	// The encode leader for this rank's set may have written this
	// rank's own Descriptor directly to its persisted snapshot rather
	// than this rank's live copy; pick that up before looking for it.
	if onDisk, err := filemap.Read(rt.fileMapPath()); err == nil {
		merged.Merge(onDisk)
	}

	desc, ok := merged.GetDesc(dset, rt.rank)
	if !ok {
		return merged, nil
	}
	d, err := scavenge.DescriptorFromTree(desc)
	if err != nil {
		return nil, errors.Wrap(err, "runtime: decode own descriptor")
	}

	for _, r := range d.Ranks {
		if r == rt.rank {
			continue
		}
		mfm, err := filemap.Read(rt.rankFileMapPath(r))
		if err != nil {
			continue // a missing/unreadable partner snapshot is exactly what we're trying to recover from
		}
		merged.Merge(mfm)
	}
	return merged, nil
}

// encodeXOR partitions the group into CKPT SET_SIZE-sized XOR sets
// (one set covering the whole group if unset). For each set this rank
// belongs to, the lowest-ranked member computes that whole set's
// parity — every other member just waits at the closing Barrier,
// since EncodeXOR needs every member's real data available in one
// call (an embarrassingly-parallel per-position fan-out, not a ring
// pass that could be split across ranks without a real transport).
func (rt *Runtime) encodeXOR(dset int) error {
	sets := partitionRanks(rt.group.Size(), rt.ckptSetSize())
	for _, ranks := range sets {
		if len(ranks) < 2 {
			continue // a lone leftover member has no redundancy to compute
		}
		idx := indexOfRank(ranks, rt.rank)
		if idx < 0 {
			continue
		}
		if rt.rank == ranks[0] {
			if err := rt.runXOREncode(dset, ranks); err != nil {
				return err
			}
		}
	}
	rt.group.Barrier()
	return nil
}

type xorMember struct {
	names []string
	sizes []int64
	metas []*meta.Meta
	files []*os.File
}

func (rt *Runtime) runXOREncode(dset int, ranks []int) error {
	ctx := context.Background()
	setSize := len(ranks)

	members := make([]xorMember, setSize)
	sources := make([]redundancy.MemberSource, 0, setSize)
	var maxLogical int64

	defer func() {
		for _, m := range members {
			for _, f := range m.files {
				f.Close()
			}
		}
	}()

	dir := rt.datasetDir(dset)
	for i, r := range ranks {
		mfm, err := rt.loadMemberFileMap(r)
		if err != nil {
			return errors.Wrapf(err, "runtime: encode xor: load file map for rank %d", r)
		}
		names := mfm.ListFiles(dset, r)
		sort.Strings(names)

		var sizes []int64
		var metas []*meta.Meta
		var files []*os.File
		for _, name := range names {
			m, _ := mfm.GetMeta(dset, r, name)
			size, _ := m.Size()
			f, err := os.Open(filepath.Join(dir, name))
			if err != nil {
				return errors.Wrapf(err, "runtime: encode xor: open %s", name)
			}
			files = append(files, f)
			sizes = append(sizes, size)
			metas = append(metas, m)
		}

		pfs := rio.NewPaddedFileSet(files, sizes)
		if pfs.LogicalSize() > maxLogical {
			maxLogical = pfs.LogicalSize()
		}
		members[i] = xorMember{names: names, sizes: sizes, metas: metas, files: files}
		sources = append(sources, redundancy.MemberSource{Index: i, Data: pfs})
	}

	chunkSize := redundancy.ChunkSize(setSize, maxLogical)
	parity, err := redundancy.EncodeXOR(ctx, sources, setSize, chunkSize)
	if err != nil {
		return errors.Wrap(err, "runtime: encode xor")
	}

	fileEntries := make([][]redundancy.FileEntry, setSize)
	for i := range ranks {
		entries := make([]redundancy.FileEntry, len(members[i].names))
		for j, name := range members[i].names {
			entries[j] = redundancy.FileEntry{Name: name, Meta: members[i].metas[j]}
		}
		fileEntries[i] = entries
	}

	for i, r := range ranks {
		left := (i - 1 + setSize) % setSize
		hdr := &redundancy.Header{
			Ranks:        ranks,
			CheckpointID: dset,
			ChunkSize:    chunkSize,
			MyRank:       r,
			MyFiles:      fileEntries[i],
			PartnerRank:  ranks[left],
			PartnerFiles: fileEntries[left],
		}

		parityPath := filepath.Join(dir, scavenge.XORFileName(i, setSize, dset))
		if err := os.WriteFile(parityPath, parity[i], 0600); err != nil {
			return errors.Wrapf(err, "runtime: write parity for rank %d", r)
		}
		if err := redundancy.WriteHeader(parityPath, hdr); err != nil {
			return errors.Wrapf(err, "runtime: write xor header for rank %d", r)
		}

		desc := scavenge.Descriptor{
			Variant:      redundancy.VariantXOR,
			SetID:        dset,
			Index:        i,
			Ranks:        ranks,
			ChunkSize:    chunkSize,
			CheckpointID: dset,
		}
		if err := rt.setMemberDesc(r, dset, desc.Tree()); err != nil {
			return err
		}
	}
	return nil
}

// encodePartner copies every rank's own files into the dataset's
// shared partner directory, the same flat layout RebuildPartner reads
// back from. Every rank writes only its own (already rank-qualified)
// names, so no coordinating leader is needed: the whole group acts in
// parallel and simply meets at a closing Barrier. It also replicates
// this rank's own persisted File Map snapshot into the same partner
// directory, so a rank that loses its cache entirely (data and
// snapshot both) can still have its map restored offline alongside
// its data files.
func (rt *Runtime) encodePartner(dset int) error {
	total := rt.group.Size()
	if total < 2 {
		return nil
	}

	names := rt.fm.ListFiles(dset, rt.rank)
	sort.Strings(names)

	srcDir := rt.datasetDir(dset)
	destDir := filepath.Join(srcDir, "partner")
	if len(names) > 0 {
		files := make([]string, len(names))
		for i, name := range names {
			files[i] = filepath.Join(srcDir, name)
		}
		if err := redundancy.EncodePartner(files, destDir); err != nil {
			return errors.Wrap(err, "runtime: encode partner")
		}
	}
	if err := redundancy.EncodePartner([]string{rt.fileMapPath()}, destDir); err != nil {
		return errors.Wrap(err, "runtime: encode partner file map")
	}

	ranks := make([]int, total)
	for i := range ranks {
		ranks[i] = i
	}
	desc := scavenge.Descriptor{
		Variant:      redundancy.VariantPartner,
		SetID:        dset,
		Index:        rt.rank,
		Ranks:        ranks,
		CheckpointID: dset,
	}
	rt.fm.SetDesc(dset, rt.rank, desc.Tree())

	rt.group.Barrier()
	return nil
}
