package runtime

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/LLNL/scr-sub002/pkg/param"
	"github.com/LLNL/scr-sub002/pkg/pgroup"
	"github.com/LLNL/scr-sub002/pkg/scavenge"
)

// fakeCoordinator is a generation-barrier rendezvous point shared by
// every rank's fakeGroup: every collective call blocks until all
// members for the current generation have submitted their local
// value, then every caller receives the same combined result. This
// lets the single-rank Group contract be exercised with real
// concurrent goroutines instead of a sequential stub, the way a
// multi-rank collective actually behaves.
type fakeCoordinator struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	gen     int
	arrived int
	slots   [][]byte
	result  []byte
}

func newFakeCoordinator(size int) *fakeCoordinator {
	c := &fakeCoordinator{size: size, slots: make([][]byte, size)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *fakeCoordinator) rendezvous(rank int, data []byte, combine func(slots [][]byte) []byte) []byte {
	c.mu.Lock()
	myGen := c.gen
	c.slots[rank] = data
	c.arrived++
	if c.arrived == c.size {
		c.result = combine(c.slots)
		c.arrived = 0
		c.slots = make([][]byte, c.size)
		c.gen++
		c.cond.Broadcast()
	} else {
		for c.gen == myGen {
			c.cond.Wait()
		}
	}
	res := c.result
	c.mu.Unlock()
	return res
}

type fakeGroup struct {
	coord *fakeCoordinator
	rank  int
	size  int
}

func (g *fakeGroup) Rank() int { return g.rank }
func (g *fakeGroup) Size() int { return g.size }

func (g *fakeGroup) Barrier() {
	g.coord.rendezvous(g.rank, nil, func(slots [][]byte) []byte { return nil })
}

func (g *fakeGroup) Broadcast(data []byte, root int) []byte {
	return g.coord.rendezvous(g.rank, data, func(slots [][]byte) []byte {
		return slots[root]
	})
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(buf))
}

func combineOp(op pgroup.Op, vals []int64) int64 {
	result := vals[0]
	for _, v := range vals[1:] {
		switch op {
		case pgroup.OpMax:
			if v > result {
				result = v
			}
		case pgroup.OpMin:
			if v < result {
				result = v
			}
		case pgroup.OpLand:
			if v == 0 {
				result = 0
			}
		case pgroup.OpLor:
			if v != 0 {
				result = 1
			}
		default:
			result += v
		}
	}
	return result
}

func (g *fakeGroup) Allreduce(local int64, op pgroup.Op) int64 {
	res := g.coord.rendezvous(g.rank, encodeInt64(local), func(slots [][]byte) []byte {
		vals := make([]int64, len(slots))
		for i, s := range slots {
			vals[i] = decodeInt64(s)
		}
		return encodeInt64(combineOp(op, vals))
	})
	return decodeInt64(res)
}

func (g *fakeGroup) Scan(local int64) int64               { return local }
func (g *fakeGroup) Reduce(local int64, op pgroup.Op, root int) int64 { return local }

// runOnAll runs fn(rank) concurrently for every rank in [0, size) and
// collects any errors, in rank order.
func runOnAll(size int, fn func(rank int) error) []error {
	errs := make([]error, size)
	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = fn(r)
		}(r)
	}
	wg.Wait()
	return errs
}

func requireNoErrors(t *testing.T, label string, errs []error) {
	t.Helper()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("%s rank %d: %v", label, i, err)
		}
	}
}

func TestMultiRankXOREncodeAndRebuild(t *testing.T) {
	const size = 3
	coord := newFakeCoordinator(size)
	cacheDir := t.TempDir()
	prefixDir := t.TempDir()

	runtimes := make([]*Runtime, size)
	for r := 0; r < size; r++ {
		p := param.New()
		if err := p.Set("SCR_COPY_TYPE=XOR"); err != nil {
			t.Fatal(err)
		}
		g := &fakeGroup{coord: coord, rank: r, size: size}
		runtimes[r] = New(g, p, cacheDir, prefixDir)
	}

	requireNoErrors(t, "Init", runOnAll(size, func(r int) error {
		return runtimes[r].Init()
	}))

	requireNoErrors(t, "StartOutput", runOnAll(size, func(r int) error {
		return runtimes[r].StartOutput("ckpt.0", FlagCheckpoint)
	}))

	contents := map[int][]byte{
		0: []byte("rank zero payload"),
		1: []byte("rank one payload, a bit longer"),
		2: []byte("rank two"),
	}
	for r := 0; r < size; r++ {
		path, err := runtimes[r].RouteFile("data")
		if err != nil {
			t.Fatalf("RouteFile rank %d: %v", r, err)
		}
		if err := os.WriteFile(path, contents[r], 0600); err != nil {
			t.Fatal(err)
		}
	}

	requireNoErrors(t, "CompleteOutput", runOnAll(size, func(r int) error {
		return runtimes[r].CompleteOutput(true)
	}))

	// dataset id 0 is deterministic: the prefix-directory index started empty.
	const dset = 0
	dir := runtimes[0].datasetDir(dset)
	for i := 0; i < size; i++ {
		parityPath := filepath.Join(dir, scavenge.XORFileName(i, size, dset))
		if _, err := os.Stat(parityPath); err != nil {
			t.Fatalf("expected parity file for member %d: %v", i, err)
		}
	}

	// Simulate rank 1 losing its routed file; its redundancy set
	// partners should be able to rebuild it via a restart pass.
	lostPath := filepath.Join(dir, routedName(1, "data"))
	if err := os.Remove(lostPath); err != nil {
		t.Fatalf("remove %s: %v", lostPath, err)
	}

	requireNoErrors(t, "StartRestart", runOnAll(size, func(r int) error {
		return runtimes[r].StartRestart("ckpt.0")
	}))

	got1, err := runtimes[1].RouteFile("data")
	if err != nil {
		t.Fatalf("RouteFile rank 1 (restart): %v", err)
	}
	data, err := os.ReadFile(got1)
	if err != nil {
		t.Fatalf("read rebuilt file: %v", err)
	}
	if string(data) != string(contents[1]) {
		t.Errorf("rebuilt rank 1 content = %q, want %q", data, contents[1])
	}

	for r := 0; r < size; r++ {
		if _, err := runtimes[r].RouteFile("data"); err != nil {
			t.Fatalf("RouteFile rank %d (restart, intact): %v", r, err)
		}
	}

	requireNoErrors(t, "CompleteRestart", runOnAll(size, func(r int) error {
		return runtimes[r].CompleteRestart(true)
	}))
}
