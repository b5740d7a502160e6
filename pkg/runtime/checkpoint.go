package runtime

import (
	"fmt"
	"strconv"

	"github.com/LLNL/scr-sub002/pkg/pgroup"
	"github.com/LLNL/scr-sub002/pkg/redundancy"
)

// ckptValue reads CKPT's own top-level scalar, the qualifier every
// read of one of its sub-keys must supply back to Get.
func (rt *Runtime) ckptValue() (string, bool) {
	return rt.params.Get("CKPT")
}

// ckptSub reads one of CKPT's nested sub-keys (INTERVAL, GROUP, STORE,
// TYPE, SET_SIZE), first resolving CKPT's own value since pkg/param's
// qualifier syntax requires it to descend into CKPT's subtree.
func (rt *Runtime) ckptSub(name string) (string, bool) {
	v, ok := rt.ckptValue()
	if !ok {
		return "", false
	}
	return rt.params.Get(fmt.Sprintf("CKPT=%s %s", v, name))
}

// ckptInterval returns CKPT's INTERVAL sub-key, defaulting to 1 (take
// a checkpoint on every NeedCheckpoint call) when unset or malformed.
func (rt *Runtime) ckptInterval() int {
	s, ok := rt.ckptSub("INTERVAL")
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// ckptSetSize returns CKPT's SET_SIZE sub-key, or 0 meaning "use the
// whole group as one set" when unset or malformed.
func (rt *Runtime) ckptSetSize() int {
	s, ok := rt.ckptSub("SET_SIZE")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 2 {
		return 0
	}
	return n
}

// redundancyScheme resolves the scheme a new dataset should be
// protected with: SCR_COPY_TYPE overrides CKPT's own TYPE sub-key,
// which in turn defaults to SINGLE (no redundancy).
func (rt *Runtime) redundancyScheme() redundancy.Variant {
	if v, ok := rt.params.Get("SCR_COPY_TYPE"); ok && v != "" {
		return redundancy.Variant(v)
	}
	if v, ok := rt.ckptSub("TYPE"); ok && v != "" {
		return redundancy.Variant(v)
	}
	return redundancy.VariantSingle
}

// NeedCheckpoint reports whether the application should take a
// checkpoint now: rank 0 counts its own calls and compares against
// CKPT's INTERVAL, and the decision is broadcast so every rank agrees.
func (rt *Runtime) NeedCheckpoint() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var need int64
	if rt.rank == 0 {
		rt.ckptAttempts++
		if rt.ckptAttempts%rt.ckptInterval() == 0 {
			need = 1
		}
	}
	need = rt.group.Allreduce(need, pgroup.OpMax)
	return need != 0
}
