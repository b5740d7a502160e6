package scavenge

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/redundancy"
)

// SetPlan is a redundancy set reassembled from the descriptors of
// every rank in it that scavenge still has a record of, plus which of
// its positions came back incomplete from Scan. Invalid marks a
// structural inconsistency among the set's members (as opposed to a
// position simply missing) found while grouping; Decide treats it the
// same as exhausting the scheme's redundancy.
type SetPlan struct {
	SetID         int
	Variant       redundancy.Variant
	Ranks         []int // cyclic global ranks
	ChunkSize     int64
	CheckpointID  int
	MissingIndex  []int // positions within Ranks found incomplete
	Invalid       bool
	InvalidReason string
}

// GroupBySet reassembles scan's per-rank descriptors into one SetPlan
// per redundancy set. A rank with no descriptor (never encoded, or
// from a scheme scavenge doesn't track in sets, i.e. SINGLE) is
// skipped: SINGLE has no redundancy to evaluate, it is either present
// or simply lost.
//
// Grouping doubles as the rest of Inspect: a rank already flagged
// Invalid by Scan poisons its set, a descriptor whose own Ranks list
// disagrees with the rest of the set's, an Index outside that list,
// or two different physical ranks both claiming the same Index all
// mark the set Invalid too.
func GroupBySet(scan *DatasetScan) map[int]*SetPlan {
	sets := map[int]*SetPlan{}
	claimed := map[int]map[int]int{} // setID -> index -> rank

	invalidate := func(sp *SetPlan, reason string) {
		if !sp.Invalid {
			sp.Invalid, sp.InvalidReason = true, reason
		}
	}

	for _, rs := range scan.Ranks {
		if !rs.HasDescriptor || rs.Descriptor.Variant == redundancy.VariantSingle {
			continue
		}
		d := rs.Descriptor
		sp, ok := sets[d.SetID]
		if !ok {
			sp = &SetPlan{
				SetID:        d.SetID,
				Variant:      d.Variant,
				Ranks:        d.Ranks,
				ChunkSize:    d.ChunkSize,
				CheckpointID: d.CheckpointID,
			}
			sets[d.SetID] = sp
			claimed[d.SetID] = map[int]int{}
		}

		if rs.Invalid {
			invalidate(sp, fmt.Sprintf("rank %d: %s", rs.Rank, rs.InvalidReason))
		}
		if d.Index < 0 || d.Index >= len(d.Ranks) {
			invalidate(sp, fmt.Sprintf("rank %d index %d out of range for its own %d-member set", rs.Rank, d.Index, len(d.Ranks)))
		} else if !intSliceEqual(d.Ranks, sp.Ranks) {
			invalidate(sp, fmt.Sprintf("rank %d reports a different member order for set %d than its peers", rs.Rank, d.SetID))
		} else if sp.Ranks[d.Index] != rs.Rank {
			invalidate(sp, fmt.Sprintf("rank %d claims index %d, which set %d's member order assigns to rank %d", rs.Rank, d.Index, d.SetID, sp.Ranks[d.Index]))
		}
		if prior, seen := claimed[d.SetID][d.Index]; seen && prior != rs.Rank {
			invalidate(sp, fmt.Sprintf("set %d index %d claimed by both rank %d and rank %d", d.SetID, d.Index, prior, rs.Rank))
		}
		claimed[d.SetID][d.Index] = rs.Rank

		if !rs.Complete {
			sp.MissingIndex = append(sp.MissingIndex, d.Index)
		}
	}
	for _, sp := range sets {
		sort.Ints(sp.MissingIndex)
	}
	return sets
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Decide applies the set's redundancy scheme's failure policy to its
// missing positions. ok is true when exactly one position needs (and
// can have) a rebuild attempted; root is that position. A set with
// nothing missing returns ok=false, err=nil. A set that has lost more
// than its scheme tolerates, or that GroupBySet found structurally
// inconsistent, returns err wrapping redundancy.ErrUnrecoverable: a
// broken record is no more fixable than a missing one.
func Decide(sp *SetPlan) (root int, ok bool, err error) {
	if sp.Invalid {
		return 0, false, errors.Wrap(redundancy.ErrUnrecoverable, sp.InvalidReason)
	}
	if len(sp.MissingIndex) == 0 {
		return 0, false, nil
	}

	switch sp.Variant {
	case redundancy.VariantXOR:
		if evalErr := redundancy.EvaluateXOR(len(sp.MissingIndex)); evalErr != nil {
			return 0, false, evalErr
		}
	case redundancy.VariantPartner:
		if evalErr := redundancy.EvaluatePartner(len(sp.MissingIndex) >= 1, len(sp.MissingIndex) >= 2); evalErr != nil {
			return 0, false, evalErr
		}
	default:
		return 0, false, redundancy.ErrUnrecoverable
	}

	return sp.MissingIndex[0], true, nil
}
