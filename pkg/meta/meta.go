// Package meta implements Meta, the per-file metadata record that
// describes a single file within a dataset: its checkpoint index,
// owning rank, original name and location, size, redundancy role, and
// completeness/integrity markers.
package meta

import (
	"os"

	"github.com/LLNL/scr-sub002/pkg/kvtree"
)

// Type classifies the role a file plays within a dataset.
type Type string

const (
	TypeUser    Type = "USER"
	TypeXOR     Type = "XOR"
	TypePartner Type = "PARTNER"
)

const (
	keyCkpt     = "CKPT"
	keyRank     = "RANK"
	keyRanks    = "RANKS"
	keyOrig     = "ORIG"
	keyPath     = "PATH"
	keyName     = "NAME"
	keySize     = "SIZE"
	keyType     = "TYPE"
	keyComplete = "COMPLETE"
	keyCRC      = "CRC"
)

// Meta is a thin, fixed-key wrapper over a kvtree.Tree.
type Meta struct {
	tree *kvtree.Tree
}

// New returns an empty Meta.
func New() *Meta {
	return &Meta{tree: kvtree.New()}
}

// FromTree wraps an existing tree (e.g. one read back from a File
// Map) as a Meta, without copying it.
func FromTree(t *kvtree.Tree) *Meta {
	if t == nil {
		t = kvtree.New()
	}
	return &Meta{tree: t}
}

// Tree returns the underlying kvtree.Tree.
func (m *Meta) Tree() *kvtree.Tree { return m.tree }

func (m *Meta) Checkpoint() (int64, bool)    { return m.tree.GetInt64(keyCkpt) }
func (m *Meta) SetCheckpoint(v int64) *Meta  { m.tree.SetInt64(keyCkpt, v); return m }
func (m *Meta) Rank() (int64, bool)          { return m.tree.GetInt64(keyRank) }
func (m *Meta) SetRank(v int64) *Meta        { m.tree.SetInt64(keyRank, v); return m }
func (m *Meta) Ranks() (int64, bool)         { return m.tree.GetInt64(keyRanks) }
func (m *Meta) SetRanks(v int64) *Meta       { m.tree.SetInt64(keyRanks, v); return m }
func (m *Meta) Orig() (string, bool)         { return m.tree.GetStr(keyOrig) }
func (m *Meta) SetOrig(v string) *Meta       { m.tree.SetStr(keyOrig, v); return m }
func (m *Meta) Path() (string, bool)         { return m.tree.GetStr(keyPath) }
func (m *Meta) SetPath(v string) *Meta       { m.tree.SetStr(keyPath, v); return m }
func (m *Meta) Name() (string, bool)         { return m.tree.GetStr(keyName) }
func (m *Meta) SetName(v string) *Meta       { m.tree.SetStr(keyName, v); return m }
func (m *Meta) Size() (int64, bool)          { return m.tree.GetBytes(keySize) }
func (m *Meta) SetSize(v int64) *Meta        { m.tree.SetBytes(keySize, v); return m }
func (m *Meta) CRC() (uint32, bool) {
	v, ok := m.tree.GetInt64(keyCRC)
	return uint32(v), ok
}
func (m *Meta) SetCRC(v uint32) *Meta { m.tree.SetInt64(keyCRC, int64(v)); return m }

func (m *Meta) Type() (Type, bool) {
	s, ok := m.tree.GetStr(keyType)
	return Type(s), ok
}
func (m *Meta) SetType(t Type) *Meta { m.tree.SetStr(keyType, string(t)); return m }

func (m *Meta) Complete() bool {
	v, ok := m.tree.GetInt64(keyComplete)
	return ok && v != 0
}
func (m *Meta) SetComplete(v bool) *Meta {
	n := int64(0)
	if v {
		n = 1
	}
	m.tree.SetInt64(keyComplete, n)
	return m
}

// Copy clears m and merges src into it, matching the library-wide
// "copy" convention: the destination's prior content is discarded.
func (m *Meta) Copy(src *Meta) {
	m.tree.Copy(src.tree)
}

// Dup returns a deep copy of m.
func (m *Meta) Dup() *Meta {
	return FromTree(m.tree.Dup())
}

// IsComplete reports whether m describes a complete file: COMPLETE=1,
// and, when checked against the file at path, its on-disk size
// matches SIZE and (if a CRC was recorded) its CRC32 matches.
func (m *Meta) IsComplete(path string, crc32 func(string) (uint32, error)) bool {
	if !m.Complete() {
		return false
	}

	wantSize, haveSize := m.Size()
	if haveSize {
		fi, err := os.Stat(path)
		if err != nil || fi.Size() != wantSize {
			return false
		}
	}

	wantCRC, haveCRC := m.CRC()
	if haveCRC && crc32 != nil {
		got, err := crc32(path)
		if err != nil || got != wantCRC {
			return false
		}
	}

	return true
}
