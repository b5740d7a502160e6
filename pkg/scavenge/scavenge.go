// Package scavenge implements the scan/inspect/decide/execute pipeline
// that turns a set of per-rank File Maps left behind in a cache
// directory into a judgment, per dataset, of what's fully present,
// what's missing, and what can still be rebuilt from redundancy data
// before anything is flushed or declared lost.
package scavenge

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/kvtree"
	"github.com/LLNL/scr-sub002/pkg/redundancy"
)

const (
	descType   = "TYPE"
	descSetID  = "SETID"
	descIndex  = "INDEX"
	descRanks  = "RANKS"
	descChunk  = "CHUNK"
	descCkptID = "CKPT"
)

// Descriptor is the per-rank redundancy descriptor the runtime records
// in a rank's File Map entry (FileMap.SetDesc/GetDesc) at encode time:
// which scheme protects this rank's data, which set it belongs to,
// its own position in that set, and the set's full cyclic rank order.
// scavenge groups File Map entries back into sets using this.
type Descriptor struct {
	Variant      redundancy.Variant
	SetID        int
	Index        int
	Ranks        []int
	ChunkSize    int64
	CheckpointID int
}

// Tree renders d in the shape FileMap.SetDesc/GetDesc persists.
func (d Descriptor) Tree() *kvtree.Tree {
	t := kvtree.New()
	t.SetStr(descType, string(d.Variant))
	t.SetInt64(descSetID, int64(d.SetID))
	t.SetInt64(descIndex, int64(d.Index))
	t.SetInt64(descChunk, d.ChunkSize)
	t.SetInt64(descCkptID, int64(d.CheckpointID))

	ranks := t.EnsureChild(descRanks)
	for i, r := range d.Ranks {
		ranks.SetInt64(strconv.Itoa(i), int64(r))
	}
	ranks.SetInt64("COUNT", int64(len(d.Ranks)))
	return t
}

// DescriptorFromTree parses a Descriptor out of its File-Map-stored
// shape.
func DescriptorFromTree(t *kvtree.Tree) (Descriptor, error) {
	if t == nil {
		return Descriptor{}, errors.New("scavenge: nil descriptor tree")
	}
	typ, _ := t.GetStr(descType)
	setID, _ := t.GetInt64(descSetID)
	index, _ := t.GetInt64(descIndex)
	chunk, _ := t.GetInt64(descChunk)
	ckpt, _ := t.GetInt64(descCkptID)

	ranksNode := t.Child(descRanks)
	count, _ := ranksNode.GetInt64("COUNT")
	ranks := make([]int, count)
	for i := range ranks {
		v, _ := ranksNode.GetInt64(strconv.Itoa(i))
		ranks[i] = int(v)
	}

	return Descriptor{
		Variant:      redundancy.Variant(typ),
		SetID:        int(setID),
		Index:        int(index),
		Ranks:        ranks,
		ChunkSize:    chunk,
		CheckpointID: int(ckpt),
	}, nil
}
