// Package redundancy implements the redundancy engine: SINGLE (cache
// only, no redundancy), PARTNER (copy to a neighbor), and XOR (rank
// fragments plus parity, recoverable from one missing member per
// group) encoding, local decode, and offline rebuild.
package redundancy

import "github.com/pkg/errors"

// Variant names the redundancy scheme applied to a dataset.
type Variant string

const (
	VariantSingle  Variant = "SINGLE"
	VariantPartner Variant = "PARTNER"
	VariantXOR     Variant = "XOR"
)

// ErrUnrecoverable is returned when a redundancy set has lost more
// members than the scheme can tolerate (two or more missing from an
// XOR set, or a PARTNER whose partner is also gone).
var ErrUnrecoverable = errors.New("redundancy: set is unrecoverable")

// ErrCRCMismatch is returned when a rebuilt or recovered file's CRC32
// does not match the value recorded in its Meta.
var ErrCRCMismatch = errors.New("redundancy: CRC32 mismatch after rebuild")

// Set is a redundancy group formed by the runtime from the process
// group (pkg/pgroup) and a SET_SIZE parameter: members are ordered
// cyclically, and each one knows its left/right neighbor and its
// position within the group.
type Set struct {
	Ranks []int // global ranks, in cyclic order
	Index int   // this member's position within Ranks
}

// NewSet builds a Set from ranks (cyclic order) given the caller's own
// global rank.
func NewSet(ranks []int, myRank int) (*Set, error) {
	for i, r := range ranks {
		if r == myRank {
			return &Set{Ranks: append([]int(nil), ranks...), Index: i}, nil
		}
	}
	return nil, errors.Errorf("redundancy: rank %d is not a member of set %v", myRank, ranks)
}

// Size returns the number of members in the set.
func (s *Set) Size() int { return len(s.Ranks) }

// MyRank returns this member's own global rank.
func (s *Set) MyRank() int { return s.Ranks[s.Index] }

// LeftNeighbor returns the global rank immediately before this member
// in cyclic order.
func (s *Set) LeftNeighbor() int {
	n := len(s.Ranks)
	return s.Ranks[(s.Index-1+n)%n]
}

// RightNeighbor returns the global rank immediately after this member
// in cyclic order.
func (s *Set) RightNeighbor() int {
	n := len(s.Ranks)
	return s.Ranks[(s.Index+1)%n]
}
