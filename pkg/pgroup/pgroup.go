// Package pgroup defines the process-group abstraction the runtime
// consumes for collective operations: rank/size identity plus
// barrier, broadcast, allreduce, scan, and reduce. No transport is
// implemented here — the interface exists so pkg/runtime can be built
// and tested against a single-process stand-in, with a real
// MPI/sockets/etc. backing implementation wired in at the
// application's choice.
package pgroup

// Op identifies a reduction operator for Allreduce and Reduce.
type Op int

const (
	OpMin Op = iota
	OpMax
	OpSum
	OpBand
	OpBor
	OpLand
	OpLor
)

// Group is the collective layer the runtime builds on: rank, size,
// barrier, broadcast, allreduce(min|max|sum|band|bor|land|lor),
// scan(sum), and reduce(min|max|sum).
type Group interface {
	// Rank returns this process's rank within the group, in [0, Size).
	Rank() int

	// Size returns the number of members in the group.
	Size() int

	// Barrier blocks until every member has called Barrier.
	Barrier()

	// Broadcast distributes data from root to every member, returning
	// root's data at every rank including root.
	Broadcast(data []byte, root int) []byte

	// Allreduce combines every member's local value with op and
	// returns the combined result to all members.
	Allreduce(local int64, op Op) int64

	// Scan returns the inclusive prefix sum of local values ordered by
	// rank: at rank r, the sum of local values from ranks 0..r.
	Scan(local int64) int64

	// Reduce combines every member's local value with op, returning
	// the result at root and an arbitrary value at every other rank.
	Reduce(local int64, op Op, root int) int64
}

// LocalGroup is the trivial size-1 Group: every collective is a local
// no-op or identity operation. It is sufficient for single-rank
// operation and for exercising pkg/runtime without a real transport.
type LocalGroup struct{}

// New returns a LocalGroup.
func New() *LocalGroup { return &LocalGroup{} }

func (LocalGroup) Rank() int { return 0 }
func (LocalGroup) Size() int { return 1 }

func (LocalGroup) Barrier() {}

func (LocalGroup) Broadcast(data []byte, root int) []byte { return data }

func (LocalGroup) Allreduce(local int64, op Op) int64 { return local }

func (LocalGroup) Scan(local int64) int64 { return local }

func (LocalGroup) Reduce(local int64, op Op, root int) int64 { return local }
