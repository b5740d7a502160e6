// Package dataset implements Dataset, the descriptor for one
// checkpoint or output generation: its id, name, total size and file
// count, creation time, and the job metadata needed to tell restart
// candidates apart.
package dataset

import (
	"time"

	"github.com/LLNL/scr-sub002/pkg/kvtree"
)

const (
	keyID         = "ID"
	keyName       = "NAME"
	keySize       = "SIZE"
	keyFiles      = "FILES"
	keyCreated    = "CREATED"
	keyJobID      = "JOBID"
	keyCluster    = "CLUSTER"
	keyCkpt       = "CKPT"
	keyComplete   = "COMPLETE"
	keyFlagCkpt   = "FLAG_CKPT"
	keyFlagOutput = "FLAG_OUTPUT"
)

// Dataset is a thin, fixed-key wrapper over a kvtree.Tree.
type Dataset struct {
	tree *kvtree.Tree
}

// New returns an empty Dataset.
func New() *Dataset {
	return &Dataset{tree: kvtree.New()}
}

// FromTree wraps an existing tree as a Dataset, without copying it.
func FromTree(t *kvtree.Tree) *Dataset {
	if t == nil {
		t = kvtree.New()
	}
	return &Dataset{tree: t}
}

// Tree returns the underlying kvtree.Tree.
func (d *Dataset) Tree() *kvtree.Tree { return d.tree }

func (d *Dataset) ID() (int64, bool)        { return d.tree.GetInt64(keyID) }
func (d *Dataset) SetID(v int64) *Dataset   { d.tree.SetInt64(keyID, v); return d }
func (d *Dataset) Name() (string, bool)     { return d.tree.GetStr(keyName) }
func (d *Dataset) SetName(v string) *Dataset {
	d.tree.SetStr(keyName, v)
	return d
}
func (d *Dataset) Size() (int64, bool)      { return d.tree.GetBytes(keySize) }
func (d *Dataset) SetSize(v int64) *Dataset { d.tree.SetBytes(keySize, v); return d }
func (d *Dataset) Files() (int64, bool)     { return d.tree.GetInt64(keyFiles) }
func (d *Dataset) SetFiles(v int64) *Dataset {
	d.tree.SetInt64(keyFiles, v)
	return d
}
func (d *Dataset) JobID() (string, bool) { return d.tree.GetStr(keyJobID) }
func (d *Dataset) SetJobID(v string) *Dataset {
	d.tree.SetStr(keyJobID, v)
	return d
}
func (d *Dataset) Cluster() (string, bool) { return d.tree.GetStr(keyCluster) }
func (d *Dataset) SetCluster(v string) *Dataset {
	d.tree.SetStr(keyCluster, v)
	return d
}
func (d *Dataset) Checkpoint() (int64, bool) { return d.tree.GetInt64(keyCkpt) }
func (d *Dataset) SetCheckpoint(v int64) *Dataset {
	d.tree.SetInt64(keyCkpt, v)
	return d
}

func (d *Dataset) Complete() bool {
	v, ok := d.tree.GetInt64(keyComplete)
	return ok && v != 0
}
func (d *Dataset) SetComplete(v bool) *Dataset {
	d.tree.SetInt64(keyComplete, boolInt(v))
	return d
}

func (d *Dataset) IsCheckpoint() bool {
	v, ok := d.tree.GetInt64(keyFlagCkpt)
	return ok && v != 0
}
func (d *Dataset) SetIsCheckpoint(v bool) *Dataset {
	d.tree.SetInt64(keyFlagCkpt, boolInt(v))
	return d
}

func (d *Dataset) IsOutput() bool {
	v, ok := d.tree.GetInt64(keyFlagOutput)
	return ok && v != 0
}
func (d *Dataset) SetIsOutput(v bool) *Dataset {
	d.tree.SetInt64(keyFlagOutput, boolInt(v))
	return d
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// CreatedTime decodes the stored microsecond-epoch CREATED key as a
// time.Time. The ok result is false if CREATED was never set.
func (d *Dataset) CreatedTime() (time.Time, bool) {
	usec, ok := d.tree.GetInt64(keyCreated)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMicro(usec), true
}

// SetCreatedTime stores t as the CREATED key in microseconds since the
// Unix epoch.
func (d *Dataset) SetCreatedTime(t time.Time) *Dataset {
	d.tree.SetInt64(keyCreated, t.UnixMicro())
	return d
}

// Copy clears d and merges src into it.
func (d *Dataset) Copy(src *Dataset) {
	d.tree.Copy(src.tree)
}

// Dup returns a deep copy of d.
func (d *Dataset) Dup() *Dataset {
	return FromTree(d.tree.Dup())
}
