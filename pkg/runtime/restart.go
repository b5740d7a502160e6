package runtime

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/index"
	"github.com/LLNL/scr-sub002/pkg/kvtree"
	"github.com/LLNL/scr-sub002/pkg/pgroup"
	"github.com/LLNL/scr-sub002/pkg/rlog"
	"github.com/LLNL/scr-sub002/pkg/scavenge"
)

// pickRestartCandidate chooses the dataset HaveRestart should offer:
// the Index's CURRENT override if it is still a valid restart target,
// otherwise the most recent COMPLETE, unFAILED dataset (Datasets
// enumerates descending, so the first hit is the most recent).
func pickRestartCandidate(ix *index.Index) (name string, id int, ok bool) {
	if cur, has := ix.Current(); has {
		if cid, idok := ix.GetIDByDir(cur); idok && ix.IsValidRestart(cid, cur) {
			return cur, cid, true
		}
	}
	for _, did := range ix.Datasets() {
		for _, dir := range ix.Dirs(did) {
			if ix.IsValidRestart(did, dir) {
				return dir, did, true
			}
		}
	}
	return "", 0, false
}

// HaveRestart consults the Index (rank 0 only has it open) and
// broadcasts the chosen restart candidate, if any, to the rest of the
// group.
func (rt *Runtime) HaveRestart() (string, bool, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var payload *kvtree.Tree
	if rt.rank == 0 {
		ix, err := rt.readIndex()
		if err != nil {
			return "", false, errors.Wrap(err, "runtime: have restart: read index")
		}
		t := kvtree.New()
		if name, id, ok := pickRestartCandidate(ix); ok {
			t.SetInt64("OK", 1)
			t.SetInt64("ID", int64(id))
			t.SetStr("NAME", name)
		} else {
			t.SetInt64("OK", 0)
		}
		payload = t
	}

	result, err := pgroup.BroadcastTree(rt.group, payload, 0)
	if err != nil {
		return "", false, errors.Wrap(err, "runtime: have restart: broadcast")
	}
	ok, _ := result.GetInt64("OK")
	if ok == 0 {
		return "", false, nil
	}
	name, _ := result.GetStr("NAME")
	return name, true, nil
}

// StartRestart resolves name to a dataset id via the Index (rank 0
// only) and opens a read window on it.
func (rt *Runtime) StartRestart(name string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if (rt.out != nil && rt.out.open) || (rt.in != nil && rt.in.open) {
		return ErrWindowAlreadyOpen
	}

	dset := 0
	if rt.rank == 0 {
		ix, err := rt.readIndex()
		if err != nil {
			return errors.Wrap(err, "runtime: start restart: read index")
		}
		id, ok := ix.GetIDByDir(name)
		if !ok {
			return errors.Wrapf(ErrNoRestartAvailable, "%q", name)
		}
		dset = id
	}
	dset = rt.broadcastInt(dset, 0)

	rt.in = &window{
		open:   true,
		dset:   dset,
		name:   name,
		dir:    rt.datasetDir(dset),
		routed: map[string]string{},
	}

	rt.group.Barrier()
	rlog.WithFields(rlog.Fields{"dataset": dset, "name": name}).Info("restart window opened")
	return nil
}

// routeRestartLocked returns the on-disk path for name under the open
// restart window, attempting a local redundancy rebuild first if the
// file is not already present and intact in this rank's cache.
func (rt *Runtime) routeRestartLocked(name string) (string, error) {
	if p, ok := rt.in.routed[name]; ok {
		return p, nil
	}

	path := filepath.Join(rt.in.dir, routedName(rt.rank, name))
	if _, err := os.Stat(path); err != nil {
		merged, mergeErr := rt.mergedFileMapForSet(rt.in.dset)
		if mergeErr != nil {
			return "", errors.Wrapf(mergeErr, "runtime: route restart file %s", name)
		}
		if rebuildErr := scavenge.RunDataset(context.Background(), merged, rt.in.dset, rt.in.dir); rebuildErr != nil {
			return "", errors.Wrapf(rebuildErr, "runtime: route restart file %s", name)
		}
		rt.fm.Merge(merged)
		if _, err := os.Stat(path); err != nil {
			return "", errors.Wrapf(err, "runtime: restart file %s missing after rebuild", name)
		}
	}

	rt.in.routed[name] = path
	return path, nil
}

// CompleteRestart all-reduces per-rank validity; on failure it marks
// the dataset FAILED in the Index (rank 0) so the next HaveRestart
// call skips it. The restart window is closed either way.
func (rt *Runtime) CompleteRestart(valid bool) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.in == nil || !rt.in.open {
		return ErrNoRestartWindow
	}
	in := rt.in

	overall := pgroup.AllSucceeded(rt.group, valid)
	if !overall && rt.rank == 0 {
		if err := rt.updateIndex(func(ix *index.Index) error {
			ix.MarkFailed(in.dset, in.name, time.Now())
			return nil
		}); err != nil {
			rlog.WithError(err).Error("complete restart: mark failed")
		}
	}

	rt.in = nil
	rt.group.Barrier()
	rlog.WithFields(rlog.Fields{"dataset": in.dset, "valid": overall}).Info("restart window closed")
	if !overall {
		return errors.New("runtime: restart dataset failed validation")
	}
	return nil
}

// Current overrides HaveRestart's selection to name, provided it is
// already a known dataset directory in the Index.
func (rt *Runtime) Current(name string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	ok := 0
	if rt.rank == 0 {
		ix, err := rt.readIndex()
		if err != nil {
			return errors.Wrap(err, "runtime: current: read index")
		}
		if _, idok := ix.GetIDByDir(name); idok {
			if err := rt.updateIndex(func(ix *index.Index) error {
				ix.SetCurrent(name)
				return nil
			}); err != nil {
				return errors.Wrap(err, "runtime: current: update index")
			}
			ok = 1
		}
	}

	if rt.broadcastInt(ok, 0) == 0 {
		return errors.Wrapf(ErrNoRestartAvailable, "%q", name)
	}
	return nil
}
