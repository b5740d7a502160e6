package filemap

import "github.com/LLNL/scr-sub002/pkg/kvtree"

// Write stores fm's text-tree encoding at path. Callers are
// responsible for their own locking when multiple writers share path;
// use kvtree.LockedReadModifyWrite directly for that case instead.
func Write(path string, fm *FileMap) error {
	return kvtree.WriteText(path, fm.tree)
}

// Read loads the FileMap stored at path. A path that doesn't exist
// yields an empty FileMap with a nil error, same as a zero-byte file
// would; a path that exists but can't be read (permission denied, a
// malformed file, any other failure) returns a non-nil error instead
// of silently falling back to empty, so a caller can tell absence
// from corruption.
func Read(path string) (*FileMap, error) {
	t, err := kvtree.ReadText(path)
	if err != nil {
		return nil, err
	}
	return FromTree(t), nil
}
