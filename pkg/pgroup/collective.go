package pgroup

import "github.com/LLNL/scr-sub002/pkg/kvtree"

// BroadcastTree broadcasts t's packed encoding from root to every
// member, returning an equivalent tree at every rank (including
// root, whose returned tree is a fresh unpack of its own data rather
// than t itself).
func BroadcastTree(g Group, t *kvtree.Tree, root int) (*kvtree.Tree, error) {
	var buf []byte
	if g.Rank() == root {
		buf = t.Pack()
	}
	buf = g.Broadcast(buf, root)
	return kvtree.UnpackAll(buf)
}

// AllSucceeded all-reduces a per-rank success flag with a logical AND,
// so a single rank's failure is visible to every member, matching the
// runtime's "propagation" rule that a local failure becomes a
// group-wide failure before a collective entry point returns.
func AllSucceeded(g Group, ok bool) bool {
	local := int64(0)
	if ok {
		local = 1
	}
	return g.Allreduce(local, OpLand) != 0
}
