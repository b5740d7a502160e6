// Package filemap implements the per-rank manifest of files, belonging
// to one or more datasets, that this library tracks in its cache: for
// each (dataset, rank) pair, the set of relative file paths, their
// Meta records, and the redundancy/flush descriptors that apply to
// them.
//
// The map keeps two symmetric indices over the same underlying data,
// exactly as the original: RANK/<r>/DSET/<d>/... for "what does this
// rank have" queries, and DSET/<d>/RANK/<r> as a back-pointer for
// "which ranks does this dataset have" queries. Every mutation keeps
// both sides in sync.
package filemap

import (
	"iter"
	"strconv"

	"github.com/LLNL/scr-sub002/pkg/kvtree"
	"github.com/LLNL/scr-sub002/pkg/meta"
)

const (
	keyRank    = "RANK"
	keyDset    = "DSET"
	keyFile    = "FILE"
	keyFiles   = "FILES"
	keyRedDesc = "REDDESC"
	keyFlush   = "FLUSH"
	keyData    = "DSETDESC"
	keyMeta    = "META"
)

// FileMap is a dual rank-major/dataset-major index over a kvtree.Tree.
type FileMap struct {
	tree *kvtree.Tree
}

// New returns an empty FileMap.
func New() *FileMap {
	return &FileMap{tree: kvtree.New()}
}

// FromTree wraps an existing tree as a FileMap, without copying it.
func FromTree(t *kvtree.Tree) *FileMap {
	if t == nil {
		t = kvtree.New()
	}
	return &FileMap{tree: t}
}

// Tree returns the underlying kvtree.Tree.
func (fm *FileMap) Tree() *kvtree.Tree { return fm.tree }

func itoa(n int) string { return strconv.Itoa(n) }

func (fm *FileMap) rankHash() *kvtree.Tree { return fm.tree.Child(keyRank) }
func (fm *FileMap) dsetHash() *kvtree.Tree { return fm.tree.Child(keyDset) }

func (fm *FileMap) r(rank int) *kvtree.Tree {
	rh := fm.rankHash()
	if rh == nil {
		return nil
	}
	return rh.Child(itoa(rank))
}

func (fm *FileMap) d(dset int) *kvtree.Tree {
	dh := fm.dsetHash()
	if dh == nil {
		return nil
	}
	return dh.Child(itoa(dset))
}

// rd returns the RANK/<rank>/DSET/<dset> subtree, or nil if absent.
func (fm *FileMap) rd(dset, rank int) *kvtree.Tree {
	r := fm.r(rank)
	if r == nil {
		return nil
	}
	return r.Child(keyDset).Child(itoa(dset))
}

func (fm *FileMap) fh(dset, rank int) *kvtree.Tree {
	rd := fm.rd(dset, rank)
	if rd == nil {
		return nil
	}
	return rd.Child(keyFile)
}

// setRD creates (if absent) RANK/<rank>/DSET/<dset> and the symmetric
// DSET/<dset>/RANK/<rank> back-pointer, and returns the former.
func (fm *FileMap) setRD(dset, rank int) *kvtree.Tree {
	r := fm.tree.EnsureChild(keyRank).EnsureChild(itoa(rank))
	rd := r.EnsureChild(keyDset).EnsureChild(itoa(dset))

	d := fm.tree.EnsureChild(keyDset).EnsureChild(itoa(dset))
	d.EnsureChild(keyRank).EnsureChild(itoa(rank))

	return rd
}

// unsetIfEmpty drops the RANK/DSET and DSET/RANK index entries for
// (dset, rank) if their bucket is now empty, and recursively collapses
// any rank/dataset node left with nothing under it.
func (fm *FileMap) unsetIfEmpty(dset, rank int) {
	r := fm.r(rank)
	d := fm.d(dset)

	bucketEmpty := r == nil
	if r != nil {
		if rd := r.Child(keyDset).Child(itoa(dset)); rd.Size() == 0 {
			r.Child(keyDset).Unset(itoa(dset))
			bucketEmpty = true
		}
	}
	if d != nil && bucketEmpty {
		if rdBack := d.Child(keyRank).Child(itoa(rank)); rdBack.Size() == 0 {
			d.Child(keyRank).Unset(itoa(rank))
		}
	}

	if r != nil && r.Child(keyDset).Size() == 0 {
		fm.rankHash().Unset(itoa(rank))
	}
	if d != nil && d.Child(keyRank).Size() == 0 {
		fm.dsetHash().Unset(itoa(dset))
	}
}

// AddFile adds relpath to the file set for (dset, rank). Idempotent.
func (fm *FileMap) AddFile(dset, rank int, relpath string) {
	rd := fm.setRD(dset, rank)
	rd.EnsureChild(keyFile).EnsureChild(relpath)
}

// RemoveFile drops relpath from (dset, rank)'s file set, and collapses
// the (dset, rank) bucket entirely if it is now empty in both
// indices.
func (fm *FileMap) RemoveFile(dset, rank int, relpath string) {
	rd := fm.rd(dset, rank)
	if rd == nil {
		return
	}
	if fh := rd.Child(keyFile); fh != nil {
		fh.Unset(relpath)
		if fh.Size() == 0 {
			rd.Unset(keyFile)
		}
	}
	fm.unsetIfEmpty(dset, rank)
}

// SetMeta deep-copies m and stores it for relpath under (dset, rank).
func (fm *FileMap) SetMeta(dset, rank int, relpath string, m *meta.Meta) {
	rd := fm.setRD(dset, rank)
	fh := rd.EnsureChild(keyFile)
	rdf := fh.EnsureChild(relpath)
	rdf.Unset(keyMeta)
	rdf.Set(keyMeta, m.Tree().Dup())
}

// GetMeta returns a copy of the Meta stored for relpath under (dset,
// rank), and whether one was present.
func (fm *FileMap) GetMeta(dset, rank int, relpath string) (*meta.Meta, bool) {
	fh := fm.fh(dset, rank)
	if fh == nil {
		return nil, false
	}
	rdf := fh.Child(relpath)
	if rdf == nil {
		return nil, false
	}
	mt := rdf.Child(keyMeta)
	if mt == nil {
		return nil, false
	}
	return meta.FromTree(mt.Dup()), true
}

// SetDesc stores a deep copy of desc as the redundancy descriptor for
// (dset, rank).
func (fm *FileMap) SetDesc(dset, rank int, desc *kvtree.Tree) {
	rd := fm.setRD(dset, rank)
	rd.Unset(keyRedDesc)
	rd.Set(keyRedDesc, desc.Dup())
}

// GetDesc returns the redundancy descriptor for (dset, rank), if set.
func (fm *FileMap) GetDesc(dset, rank int) (*kvtree.Tree, bool) {
	rd := fm.rd(dset, rank)
	if rd == nil {
		return nil, false
	}
	d := rd.Child(keyRedDesc)
	if d == nil {
		return nil, false
	}
	return d.Dup(), true
}

// SetFlushDesc stores a deep copy of desc as the flush/scavenge
// descriptor for (dset, rank).
func (fm *FileMap) SetFlushDesc(dset, rank int, desc *kvtree.Tree) {
	rd := fm.setRD(dset, rank)
	rd.Unset(keyFlush)
	rd.Set(keyFlush, desc.Dup())
}

// GetFlushDesc returns the flush/scavenge descriptor for (dset, rank),
// if set.
func (fm *FileMap) GetFlushDesc(dset, rank int) (*kvtree.Tree, bool) {
	rd := fm.rd(dset, rank)
	if rd == nil {
		return nil, false
	}
	d := rd.Child(keyFlush)
	if d == nil {
		return nil, false
	}
	return d.Dup(), true
}

// SetDataset stores a deep copy of desc as the Dataset descriptor for
// (dset, rank).
func (fm *FileMap) SetDataset(dset, rank int, desc *kvtree.Tree) {
	rd := fm.setRD(dset, rank)
	rd.Unset(keyData)
	rd.Set(keyData, desc.Dup())
}

// GetDataset returns the Dataset descriptor for (dset, rank), if set.
func (fm *FileMap) GetDataset(dset, rank int) (*kvtree.Tree, bool) {
	rd := fm.rd(dset, rank)
	if rd == nil {
		return nil, false
	}
	d := rd.Child(keyData)
	if d == nil {
		return nil, false
	}
	return d.Dup(), true
}

// SetExpectedFiles records the number of files (dset, rank) is
// expected to end up with.
func (fm *FileMap) SetExpectedFiles(dset, rank, expect int) {
	rd := fm.setRD(dset, rank)
	rd.SetInt64(keyFiles, int64(expect))
}

// GetExpectedFiles returns the expected file count for (dset, rank),
// or -1 if it was never set.
func (fm *FileMap) GetExpectedFiles(dset, rank int) int {
	rd := fm.rd(dset, rank)
	if rd == nil {
		return -1
	}
	v, ok := rd.GetInt64(keyFiles)
	if !ok {
		return -1
	}
	return int(v)
}

// ListRanks returns every rank known to the map, in indeterminate
// order unless the map was sorted.
func (fm *FileMap) ListRanks() []int {
	rh := fm.rankHash()
	return intKeys(rh)
}

// ListDatasets returns every dataset id known to the map.
func (fm *FileMap) ListDatasets() []int {
	dh := fm.dsetHash()
	return intKeys(dh)
}

// ListFiles returns the relative paths of every file tracked for
// (dset, rank).
func (fm *FileMap) ListFiles(dset, rank int) []string {
	fh := fm.fh(dset, rank)
	return fh.Keys()
}

// Ranks enumerates every rank known to the map, in indeterminate
// order unless the map was sorted. Equivalent to ListRanks but
// without building the intermediate slice up front, for a caller that
// means to break out early (mirrors scr_filemap_first_rank/
// scr_filemap_next_rank's cursor-style walk without needing a cursor
// type of its own).
func (fm *FileMap) Ranks() iter.Seq[int] {
	return func(yield func(int) bool) {
		for _, r := range fm.ListRanks() {
			if !yield(r) {
				return
			}
		}
	}
}

// Datasets enumerates every dataset id known to the map.
func (fm *FileMap) Datasets() iter.Seq[int] {
	return func(yield func(int) bool) {
		for _, d := range fm.ListDatasets() {
			if !yield(d) {
				return
			}
		}
	}
}

// Files enumerates (relative path, Meta) pairs for every file tracked
// under (dset, rank).
func (fm *FileMap) Files(dset, rank int) iter.Seq2[string, *meta.Meta] {
	return func(yield func(string, *meta.Meta) bool) {
		for _, name := range fm.ListFiles(dset, rank) {
			m, _ := fm.GetMeta(dset, rank, name)
			if !yield(name, m) {
				return
			}
		}
	}
}

func intKeys(t *kvtree.Tree) []int {
	keys := t.Keys()
	out := make([]int, 0, len(keys))
	for _, k := range keys {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// LatestDataset returns the largest dataset id in the map, or -1 if
// the map has no datasets.
func (fm *FileMap) LatestDataset() int {
	latest := -1
	for _, d := range fm.ListDatasets() {
		if d > latest {
			latest = d
		}
	}
	return latest
}

// OldestDataset returns the smallest dataset id strictly greater than
// youngerThan, or the latest dataset id if none qualifies (matching
// the original's fallback when the map has at most one dataset).
func (fm *FileMap) OldestDataset(youngerThan int) int {
	oldest := fm.LatestDataset()
	for _, d := range fm.ListDatasets() {
		if d > youngerThan && d < oldest {
			oldest = d
		}
	}
	return oldest
}

// ExtractRank moves all of rank's data out of fm into a freshly
// returned FileMap that carries the same dual-index invariants.
func (fm *FileMap) ExtractRank(rank int) *FileMap {
	out := New()

	r := fm.r(rank)
	if r != nil {
		newR := out.tree.EnsureChild(keyRank).EnsureChild(itoa(rank))
		newR.Merge(r)

		if dh := r.Child(keyDset); dh != nil {
			for _, dsetKey := range dh.Keys() {
				dset, err := strconv.Atoi(dsetKey)
				if err != nil {
					continue
				}
				out.setRD(dset, rank)
			}
		}
	}

	fm.removeRank(rank)
	return out
}

func (fm *FileMap) removeRank(rank int) {
	r := fm.r(rank)
	if r == nil {
		return
	}
	dh := r.Child(keyDset)
	for _, dsetKey := range dh.Keys() {
		dset, err := strconv.Atoi(dsetKey)
		if err != nil {
			continue
		}
		fm.removeRankByDataset(dset, rank)
	}
}

func (fm *FileMap) removeRankByDataset(dset, rank int) {
	if r := fm.rankHash(); r != nil {
		if rr := r.Child(itoa(rank)); rr != nil {
			rr.Child(keyDset).Unset(itoa(dset))
			if rr.Child(keyDset).Size() == 0 {
				r.Unset(itoa(rank))
			}
		}
	}
	if d := fm.dsetHash(); d != nil {
		if dd := d.Child(itoa(dset)); dd != nil {
			dd.Child(keyRank).Unset(itoa(rank))
			if dd.Child(keyRank).Size() == 0 {
				d.Unset(itoa(dset))
			}
		}
	}
}

// Merge unions src into fm with kvtree.Merge semantics, then
// recomputes each (dset, rank)'s FILES count from its enumerated file
// list — the safer alternative to last-writer-wins noted as an open
// design point in the original.
func (fm *FileMap) Merge(src *FileMap) {
	fm.tree.Merge(src.tree)

	for _, dset := range fm.ListDatasets() {
		for _, rank := range fm.ranksForDataset(dset) {
			n := len(fm.ListFiles(dset, rank))
			fm.SetExpectedFiles(dset, rank, n)
		}
	}
}

func (fm *FileMap) ranksForDataset(dset int) []int {
	return fm.RanksForDataset(dset)
}

// RanksForDataset returns every rank that has an entry under dset,
// whether or not any file is tracked for it yet.
func (fm *FileMap) RanksForDataset(dset int) []int {
	d := fm.d(dset)
	if d == nil {
		return nil
	}
	return intKeys(d.Child(keyRank))
}

// HaveFiles reports whether (dset, rank)'s expected file count matches
// its enumerated file count and every one of those files' Meta is
// complete on disk. isComplete is called once per file with its
// absolute path and its Meta; callers typically close over a function
// that stats the file and recomputes its CRC32.
func (fm *FileMap) HaveFiles(dset, rank int, resolvePath func(relpath string) string, isComplete func(path string, m *meta.Meta) bool) bool {
	expected := fm.GetExpectedFiles(dset, rank)
	files := fm.ListFiles(dset, rank)
	if expected < 0 || expected != len(files) {
		return false
	}

	for _, relpath := range files {
		m, ok := fm.GetMeta(dset, rank, relpath)
		if !ok {
			return false
		}
		path := relpath
		if resolvePath != nil {
			path = resolvePath(relpath)
		}
		if !isComplete(path, m) {
			return false
		}
	}
	return true
}

// Dup returns a deep copy of fm.
func (fm *FileMap) Dup() *FileMap {
	return FromTree(fm.tree.Dup())
}
