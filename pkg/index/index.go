// Package index implements the prefix-directory dataset index: the
// durable record, maintained solely by rank 0, of which dataset
// directories exist under a job's prefix directory, whether each is
// complete, flushed, or has failed a fetch attempt, and which one is
// the current restart target.
package index

import (
	"sort"
	"strconv"
	"time"

	"github.com/LLNL/scr-sub002/pkg/kvtree"
)

const (
	keyCurrent  = "CURRENT"
	keyDset     = "DSET"
	keyDir      = "DIR"
	keyComplete = "COMPLETE"
	keyFlushed  = "FLUSHED"
	keyFailed   = "FAILED"
	keyDsetDesc = "DSETDESC"
	keyFetched  = "FETCHED"
)

// Index is a thin wrapper over a kvtree.Tree implementing the
// prefix-directory index.
type Index struct {
	tree *kvtree.Tree
}

// New returns an empty Index.
func New() *Index {
	return &Index{tree: kvtree.New()}
}

// FromTree wraps an existing tree as an Index, without copying it.
func FromTree(t *kvtree.Tree) *Index {
	if t == nil {
		t = kvtree.New()
	}
	return &Index{tree: t}
}

// Tree returns the underlying kvtree.Tree.
func (ix *Index) Tree() *kvtree.Tree { return ix.tree }

func (ix *Index) dirEntry(id int, dir string) *kvtree.Tree {
	d := ix.tree.Child(keyDset)
	if d == nil {
		return nil
	}
	ds := d.Child(strconv.Itoa(id))
	if ds == nil {
		return nil
	}
	dh := ds.Child(keyDir)
	if dh == nil {
		return nil
	}
	return dh.Child(dir)
}

func (ix *Index) ensureDirEntry(id int, dir string) *kvtree.Tree {
	return ix.tree.
		EnsureChild(keyDset).
		EnsureChild(strconv.Itoa(id)).
		EnsureChild(keyDir).
		EnsureChild(dir)
}

// Add records a new dataset directory dir under id, marking it
// COMPLETE per completeFlag. Calling Add again for the same (id, dir)
// overwrites the COMPLETE flag but leaves FLUSHED/FAILED/FETCHED
// alone.
func (ix *Index) Add(id int, dir string, completeFlag bool) {
	e := ix.ensureDirEntry(id, dir)
	n := int64(0)
	if completeFlag {
		n = 1
	}
	e.SetInt64(keyComplete, n)
}

// MarkFlushed stamps dir's FLUSHED timestamp for dataset id.
func (ix *Index) MarkFlushed(id int, dir string, when time.Time) {
	e := ix.ensureDirEntry(id, dir)
	e.SetStr(keyFlushed, when.UTC().Format(time.RFC3339))
}

// MarkFailed stamps dir's FAILED timestamp for dataset id, recording
// that a fetch of this dataset was attempted and failed.
func (ix *Index) MarkFailed(id int, dir string, when time.Time) {
	e := ix.ensureDirEntry(id, dir)
	e.SetStr(keyFailed, when.UTC().Format(time.RFC3339))
}

// RecordFetched appends ts to dir's FETCHED list for dataset id.
func (ix *Index) RecordFetched(id int, dir string, ts time.Time) {
	e := ix.ensureDirEntry(id, dir)
	e.EnsureChild(keyFetched).EnsureChild(ts.UTC().Format(time.RFC3339))
}

// RemoveDir drops dir's entry from dataset id's index, and collapses
// the dataset's DIR/DSET nodes if dir was its last directory.
func (ix *Index) RemoveDir(id int, dir string) {
	d := ix.tree.Child(keyDset)
	if d == nil {
		return
	}
	ds := d.Child(strconv.Itoa(id))
	if ds == nil {
		return
	}
	dh := ds.Child(keyDir)
	if dh == nil {
		return
	}
	dh.Unset(dir)
	if dh.Size() == 0 {
		d.Unset(strconv.Itoa(id))
	}
}

// SetCurrent marks dir as the rank-0-selected restart target.
func (ix *Index) SetCurrent(dir string) {
	ix.tree.SetStr(keyCurrent, dir)
}

// Current returns the directory name marked as the current restart
// target, if any.
func (ix *Index) Current() (string, bool) {
	return ix.tree.GetStr(keyCurrent)
}

// Complete reports whether dir under dataset id is marked COMPLETE.
func (ix *Index) Complete(id int, dir string) bool {
	e := ix.dirEntry(id, dir)
	if e == nil {
		return false
	}
	v, ok := e.GetInt64(keyComplete)
	return ok && v != 0
}

// Failed reports whether dir under dataset id has a recorded FAILED
// fetch timestamp.
func (ix *Index) Failed(id int, dir string) bool {
	e := ix.dirEntry(id, dir)
	if e == nil {
		return false
	}
	_, ok := e.GetStr(keyFailed)
	return ok
}

// Flushed reports whether dir under dataset id has a recorded FLUSHED
// timestamp.
func (ix *Index) Flushed(id int, dir string) bool {
	e := ix.dirEntry(id, dir)
	if e == nil {
		return false
	}
	_, ok := e.GetStr(keyFlushed)
	return ok
}

// GetIDByDir searches every dataset id for one whose DIR set contains
// dir, returning it. ok is false if no dataset references dir.
func (ix *Index) GetIDByDir(dir string) (id int, ok bool) {
	d := ix.tree.Child(keyDset)
	if d == nil {
		return 0, false
	}
	for _, idKey := range d.Keys() {
		n, err := strconv.Atoi(idKey)
		if err != nil {
			continue
		}
		ds := d.Child(idKey)
		if dh := ds.Child(keyDir); dh != nil && dh.Child(dir) != nil {
			return n, true
		}
	}
	return 0, false
}

// Datasets returns every dataset id in the index, sorted descending
// (the listing order the original command-line tool uses).
func (ix *Index) Datasets() []int {
	d := ix.tree.Child(keyDset)
	if d == nil {
		return nil
	}
	var ids []int
	for _, idKey := range d.Keys() {
		n, err := strconv.Atoi(idKey)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	return ids
}

// Dirs returns the directory names recorded under dataset id.
func (ix *Index) Dirs(id int) []string {
	d := ix.tree.Child(keyDset)
	if d == nil {
		return nil
	}
	ds := d.Child(strconv.Itoa(id))
	if ds == nil {
		return nil
	}
	dh := ds.Child(keyDir)
	return dh.Keys()
}

// IsValidRestart reports whether dir under dataset id is a valid
// restart candidate: COMPLETE=1 and no recorded FAILED timestamp.
func (ix *Index) IsValidRestart(id int, dir string) bool {
	return ix.Complete(id, dir) && !ix.Failed(id, dir)
}
