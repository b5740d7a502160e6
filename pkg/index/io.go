package index

import "github.com/LLNL/scr-sub002/pkg/kvtree"

// Write stores ix's text-tree encoding at path.
func Write(path string, ix *Index) error {
	return kvtree.WriteText(path, ix.tree)
}

// Read loads the Index stored at path. A missing or zero-byte file
// yields an empty Index with a nil error.
func Read(path string) (*Index, error) {
	t, err := kvtree.ReadText(path)
	if err != nil {
		return nil, err
	}
	return FromTree(t), nil
}

// Update opens path under an exclusive lock held for the whole
// read-modify-write, the form rank 0 (the index's sole writer) should
// use for every mutating index operation.
func Update(path string, modify func(ix *Index) error) error {
	return kvtree.LockedReadModifyWrite(path, func(t *kvtree.Tree) error {
		return modify(FromTree(t))
	})
}
