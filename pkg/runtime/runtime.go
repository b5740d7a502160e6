// Package runtime implements the application-facing checkpoint/restart
// API: Init/Finalize lifecycle, output and restart windows, file
// routing, and the glue that drives the Redundancy Engine and the
// prefix-directory Index at the right points in that lifecycle. It
// wires pkg/filemap, pkg/redundancy, pkg/index, pkg/param,
// pkg/scavenge, and pkg/pgroup together; the per-dataset Summary is
// written by cmd/scr-copy, not here. No transport is implemented
// here, only the pkg/pgroup.Group contract consumed from it.
package runtime

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/filemap"
	"github.com/LLNL/scr-sub002/pkg/index"
	"github.com/LLNL/scr-sub002/pkg/param"
	"github.com/LLNL/scr-sub002/pkg/pgroup"
	"github.com/LLNL/scr-sub002/pkg/rio"
	"github.com/LLNL/scr-sub002/pkg/rlog"
)

// Flag classifies an output window the way SCR_Start_output's flags
// argument does. StartOutput records it as the dataset's FLAG_CKPT or
// FLAG_OUTPUT in the File Map. The Index records datasets of either
// kind, and neither HaveRestart nor NeedCheckpoint consults the flag,
// so an OUTPUT dataset can be offered as a restart candidate too.
type Flag int

const (
	FlagCheckpoint Flag = iota
	FlagOutput
)

// window is the open state of either an output or a restart pass: a
// dataset id, the user-chosen name (which doubles as the Index's
// "dir" key), this rank's dataset-local cache directory, and the
// user-name -> cache-path routing table built up by RouteFile calls.
type window struct {
	open   bool
	dset   int
	name   string
	dir    string
	routed map[string]string
	order  []string
}

// Runtime is one rank's handle onto the checkpoint/restart library. A
// single goroutine should drive each Runtime: entry points serialize
// against each other via an internal mutex, but nothing here makes
// concurrent calls from multiple goroutines on the same Runtime safe
// to interleave meaningfully (the mutex only prevents corruption, not
// useful concurrency).
type Runtime struct {
	mu sync.Mutex

	group     pgroup.Group
	params    *param.Params
	cacheDir  string
	prefixDir string

	rank int
	fm   *filemap.FileMap

	out *window
	in  *window

	ckptAttempts int
}

// New builds a Runtime bound to group for its collective operations,
// params for configuration, cacheDir as the (shared-filesystem) root
// every rank's cache-side files live under, and prefixDir as the
// shared job prefix directory holding the Index and flushed datasets.
func New(group pgroup.Group, params *param.Params, cacheDir, prefixDir string) *Runtime {
	return &Runtime{
		group:     group,
		params:    params,
		cacheDir:  cacheDir,
		prefixDir: prefixDir,
	}
}

func datasetDirName(dset int) string {
	return fmt.Sprintf("scr.dataset.%d", dset)
}

// datasetDir is the single flat cache directory every rank's files for
// dset live in side by side, matching the layout pkg/scavenge's
// Scan/RebuildXOR/RebuildPartner already resolve relative paths
// against: one directory per dataset, not one per rank.
func (rt *Runtime) datasetDir(dset int) string {
	return filepath.Join(rt.cacheDir, datasetDirName(dset))
}

// routedName is the on-disk, FileMap-relative name a rank's routed
// file is stored under: the rank is folded into the name so that
// distinct ranks routing the same user-chosen name never collide in
// their shared dataset directory.
func routedName(rank int, name string) string {
	return fmt.Sprintf("rank%d.%s", rank, filepath.Base(name))
}

func (rt *Runtime) fileMapPath() string {
	return filepath.Join(rt.cacheDir, fmt.Sprintf("%d.scrfilemap", rt.rank))
}

func (rt *Runtime) indexPath() string {
	return filepath.Join(rt.prefixDir, "index.scr")
}

func encodeInt(v int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(v)))
	return buf
}

func decodeInt(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}
	return int(int64(binary.BigEndian.Uint64(buf)))
}

// broadcastInt distributes root's value of v to every member.
func (rt *Runtime) broadcastInt(v, root int) int {
	buf := rt.group.Broadcast(encodeInt(v), root)
	return decodeInt(buf)
}

// Init reads this rank's existing File Map (if any cache survived
// from a prior run) and synchronizes with the rest of the group
// before any other entry point is used.
func (rt *Runtime) Init() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.rank = rt.group.Rank()
	rlog.SetRank(rt.rank)

	if level, ok := rt.params.Get("DEBUG"); ok {
		_ = rlog.SetLevel(level)
	}

	fm, err := filemap.Read(rt.fileMapPath())
	if err != nil {
		return errors.Wrap(err, "runtime: read file map")
	}
	rt.fm = fm

	rt.group.Barrier()
	rlog.Info("runtime initialized")
	return nil
}

// Finalize persists this rank's File Map and, if an output window was
// left open by the application, completes it as valid so no rank is
// left holding half-open state.
func (rt *Runtime) Finalize() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.out != nil && rt.out.open {
		if err := rt.completeOutputLocked(true); err != nil {
			rlog.WithError(err).Warn("finalize: completing pending output window")
		}
	}

	if err := filemap.Write(rt.fileMapPath(), rt.fm); err != nil {
		return errors.Wrap(err, "runtime: persist file map")
	}
	rt.group.Barrier()
	rlog.Info("runtime finalized")
	return nil
}

// Config applies a runtime "KEY=VALUE ..." setting, rejecting unknown
// or non-runtime-settable keys exactly as pkg/param's registry
// dictates.
func (rt *Runtime) Config(kv string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.params.Set(kv)
}

// rankFileMapPath is the persisted File Map snapshot path for an
// arbitrary rank in the group, used by the encode leader to read
// every set member's file list off the shared cache root.
func (rt *Runtime) rankFileMapPath(rank int) string {
	return filepath.Join(rt.cacheDir, fmt.Sprintf("%d.scrfilemap", rank))
}

// loadMemberFileMap returns the FileMap for rank: this rank's own live
// copy if rank is rt.rank, otherwise its persisted snapshot read back
// from the shared cache root.
func (rt *Runtime) loadMemberFileMap(rank int) (*filemap.FileMap, error) {
	if rank == rt.rank {
		return rt.fm, nil
	}
	return filemap.Read(rt.rankFileMapPath(rank))
}

// persistSelf flushes this rank's own File Map to its snapshot path,
// and the leader relies on every set member having done so (via a
// Barrier) before reading the others back.
func (rt *Runtime) persistSelf() error {
	return filemap.Write(rt.fileMapPath(), rt.fm)
}

func (rt *Runtime) ensureDir(dir string) error {
	return rio.Mkdir(dir, 0700)
}

// readIndex reads the prefix-directory Index. A missing file yields
// an empty Index (no error), matching index.Read's own contract.
func (rt *Runtime) readIndex() (*index.Index, error) {
	return index.Read(rt.indexPath())
}

// updateIndex performs a locked read-modify-write of the Index; only
// rank 0 should call this, per the Index's "rank 0 is the sole
// writer" contract.
func (rt *Runtime) updateIndex(modify func(ix *index.Index) error) error {
	return index.Update(rt.indexPath(), modify)
}
