package runtime

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/dataset"
	"github.com/LLNL/scr-sub002/pkg/index"
	"github.com/LLNL/scr-sub002/pkg/meta"
	"github.com/LLNL/scr-sub002/pkg/pgroup"
	"github.com/LLNL/scr-sub002/pkg/rio"
	"github.com/LLNL/scr-sub002/pkg/rlog"
)

// StartOutput allocates a dataset id (rank 0 picks the next free one
// past anything in the Index, broadcasts it), opens this rank's
// dataset-local cache directory, and records a Dataset stub in the
// File Map. It is collective.
func (rt *Runtime) StartOutput(name string, flags Flag) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if (rt.out != nil && rt.out.open) || (rt.in != nil && rt.in.open) {
		return ErrWindowAlreadyOpen
	}

	dset := 0
	if rt.rank == 0 {
		ix, err := rt.readIndex()
		if err != nil {
			return errors.Wrap(err, "runtime: start output: read index")
		}
		for _, id := range ix.Datasets() {
			if id >= dset {
				dset = id + 1
			}
		}
	}
	dset = rt.broadcastInt(dset, 0)

	dir := rt.datasetDir(dset)
	if err := rt.ensureDir(dir); err != nil {
		return errors.Wrapf(err, "runtime: start output: create %s", dir)
	}

	ds := dataset.New().
		SetID(int64(dset)).
		SetName(name).
		SetCreatedTime(time.Now()).
		SetIsCheckpoint(flags == FlagCheckpoint).
		SetIsOutput(flags == FlagOutput)
	rt.fm.SetDataset(dset, rt.rank, ds.Tree())

	rt.out = &window{open: true, dset: dset, name: name, dir: dir, routed: map[string]string{}}

	rt.group.Barrier()
	rlog.WithFields(rlog.Fields{"dataset": dset, "name": name}).Info("output window opened")
	return nil
}

// RouteFile returns the on-disk path the application should use for
// name: under the open output window's dataset directory if one is
// open, or under the open restart window's (rebuilding first if
// needed) otherwise. Calling it twice for the same name within the
// same window returns the same path.
func (rt *Runtime) RouteFile(name string) (string, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch {
	case rt.out != nil && rt.out.open:
		return rt.routeOutputLocked(name)
	case rt.in != nil && rt.in.open:
		return rt.routeRestartLocked(name)
	default:
		return "", ErrNoWindowOpen
	}
}

func (rt *Runtime) routeOutputLocked(name string) (string, error) {
	if p, ok := rt.out.routed[name]; ok {
		return p, nil
	}
	p := filepath.Join(rt.out.dir, routedName(rt.rank, name))
	rt.out.routed[name] = p
	rt.out.order = append(rt.out.order, name)
	return p, nil
}

// CompleteOutput all-reduces per-rank validity; on overall success it
// records every routed file's Meta, runs the Redundancy Engine against
// it, and (rank 0) records the dataset in the Index. Flushing a
// complete dataset's files and Summary out to the prefix directory is
// a separate, later step (cmd/scr-copy), not performed here. Either
// way the output window is closed once this returns.
func (rt *Runtime) CompleteOutput(valid bool) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.completeOutputLocked(valid)
}

func (rt *Runtime) completeOutputLocked(valid bool) error {
	if rt.out == nil || !rt.out.open {
		return ErrNoOutputWindow
	}
	out := rt.out

	if valid {
		for _, name := range out.order {
			if err := rt.recordRoutedFile(out, name); err != nil {
				valid = false
				rlog.WithError(err).Warn("complete output: recording file")
				break
			}
		}
	}
	rt.fm.SetExpectedFiles(out.dset, rt.rank, len(out.order))

	overall := pgroup.AllSucceeded(rt.group, valid)

	if overall {
		if err := rt.persistSelf(); err != nil {
			rlog.WithError(err).Error("complete output: persist file map")
			overall = false
		}
	}
	rt.group.Barrier()

	if overall {
		scheme := rt.redundancyScheme()
		if err := rt.encodeDataset(out.dset, scheme); err != nil {
			rlog.WithError(err).Error("complete output: redundancy encode")
			overall = false
		}
	}
	rt.group.Barrier()

	if rt.rank == 0 {
		if err := rt.updateIndex(func(ix *index.Index) error {
			ix.Add(out.dset, out.name, overall)
			return nil
		}); err != nil {
			rlog.WithError(err).Error("complete output: update index")
		}
	}

	rt.out = nil
	rlog.WithFields(rlog.Fields{"dataset": out.dset, "complete": overall}).Info("output window closed")
	if !overall {
		return errors.New("runtime: output dataset not complete")
	}
	return nil
}

// recordRoutedFile stats the file this rank actually wrote at its
// routed path and stores its size/CRC/completeness in the File Map,
// matching what a live checkpoint leaves behind for scavenge/restart
// to later check against.
func (rt *Runtime) recordRoutedFile(out *window, name string) error {
	path := out.routed[name]
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "runtime: stat routed file %s", path)
	}

	crc, err := rio.CRC32(path)
	if err != nil {
		return errors.Wrapf(err, "runtime: crc routed file %s", path)
	}

	rel := filepath.Base(path)
	m := meta.New().
		SetName(name).
		SetPath(rel).
		SetSize(info.Size()).
		SetCRC(crc).
		SetType(meta.TypeUser).
		SetComplete(true).
		SetRank(int64(rt.rank)).
		SetRanks(int64(rt.group.Size()))

	rt.fm.AddFile(out.dset, rt.rank, rel)
	rt.fm.SetMeta(out.dset, rt.rank, rel, m)
	return nil
}
