package scavenge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/filemap"
	"github.com/LLNL/scr-sub002/pkg/redundancy"
	"github.com/LLNL/scr-sub002/pkg/rio"
)

// XORFileName returns the name a set member's parity file is stored
// under in the cache directory, following the original's
// "<member>_of_<members>_in_<setid>.xor" naming (1-based member
// number).
func XORFileName(index, setSize, setID int) string {
	return fmt.Sprintf("%d_of_%d_in_%d.xor", index+1, setSize, setID)
}

// RebuildXOR reconstructs the missing member at sp.Ranks[root] from
// its surviving set members' data and parity files in cacheDir,
// writing the recovered data files, a fresh parity file, and its
// header back into cacheDir, and recording the results in fm.
func RebuildXOR(ctx context.Context, fm *filemap.FileMap, dset int, cacheDir string, sp *SetPlan, root int) error {
	setSize := len(sp.Ranks)
	if setSize == 0 {
		return errors.New("scavenge: empty set")
	}

	survivors := make([]redundancy.SurvivorSource, 0, setSize-1)
	headers := make([]*redundancy.Header, setSize)

	for idx := range sp.Ranks {
		if idx == root {
			continue
		}
		path := filepath.Join(cacheDir, XORFileName(idx, setSize, sp.SetID))
		hdr, err := redundancy.ReadHeader(path)
		if err != nil {
			return errors.Wrapf(err, "scavenge: read XOR header for set %d member %d", sp.SetID, idx)
		}
		headers[idx] = hdr

		files := make([]*os.File, 0, len(hdr.MyFiles))
		sizes := make([]int64, 0, len(hdr.MyFiles))
		for _, fe := range hdr.MyFiles {
			f, err := os.Open(filepath.Join(cacheDir, fe.Name))
			if err != nil {
				return errors.Wrapf(err, "scavenge: open survivor file %s", fe.Name)
			}
			defer f.Close()
			size, _ := fe.Meta.Size()
			files = append(files, f)
			sizes = append(sizes, size)
		}

		parity, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "scavenge: read parity payload %s", path)
		}

		survivors = append(survivors, redundancy.SurvivorSource{
			Index:  idx,
			Data:   rio.NewPaddedFileSet(files, sizes),
			Parity: parity,
		})
	}

	data, parity, err := redundancy.RebuildMissingMember(ctx, setSize, root, survivors, sp.ChunkSize)
	if err != nil {
		return errors.Wrapf(err, "scavenge: rebuild set %d member %d", sp.SetID, root)
	}

	leftIdx := (root - 1 + setSize) % setSize
	rightIdx := (root + 1) % setSize
	missingHeader := redundancy.ReconstructHeader(sp.Ranks, sp.Ranks[root], sp.ChunkSize, sp.CheckpointID, headers[rightIdx], headers[leftIdx])

	rootRank := sp.Ranks[root]
	var offset int64
	for _, fe := range missingHeader.MyFiles {
		size, _ := fe.Meta.Size()
		if offset+size > int64(len(data)) {
			return errors.Errorf("scavenge: reconstructed data too short for %s", fe.Name)
		}
		dst := filepath.Join(cacheDir, fe.Name)
		if err := os.WriteFile(dst, data[offset:offset+size], 0600); err != nil {
			return errors.Wrapf(err, "scavenge: write recovered file %s", dst)
		}
		offset += size

		crc, err := rio.CRC32(dst)
		if err != nil {
			return errors.Wrapf(err, "scavenge: crc recovered file %s", dst)
		}
		m := fe.Meta.Dup().SetComplete(true).SetCRC(crc)
		fm.AddFile(dset, rootRank, fe.Name)
		fm.SetMeta(dset, rootRank, fe.Name, m)
	}
	fm.SetExpectedFiles(dset, rootRank, len(missingHeader.MyFiles))
	fm.SetDesc(dset, rootRank, Descriptor{
		Variant:      redundancy.VariantXOR,
		SetID:        sp.SetID,
		Index:        root,
		Ranks:        sp.Ranks,
		ChunkSize:    sp.ChunkSize,
		CheckpointID: sp.CheckpointID,
	}.Tree())

	parityPath := filepath.Join(cacheDir, XORFileName(root, setSize, sp.SetID))
	if err := os.WriteFile(parityPath, parity, 0600); err != nil {
		return errors.Wrapf(err, "scavenge: write rebuilt parity file %s", parityPath)
	}
	if err := redundancy.WriteHeader(parityPath, missingHeader); err != nil {
		return errors.Wrapf(err, "scavenge: write rebuilt header for %s", parityPath)
	}

	return nil
}

// RebuildPartner recovers the missing member at sp.Ranks[root] by
// copying its files back from partnerDir, where EncodePartner put the
// partner copies.
func RebuildPartner(fm *filemap.FileMap, dset int, cacheDir, partnerDir string, sp *SetPlan, root int) error {
	rootRank := sp.Ranks[root]
	names := fm.ListFiles(dset, rootRank)
	if len(names) == 0 {
		return errors.Errorf("scavenge: no known file list for rank %d to restore from partner", rootRank)
	}
	if err := redundancy.DecodePartner(names, partnerDir, cacheDir); err != nil {
		return errors.Wrapf(err, "scavenge: restore rank %d from partner", rootRank)
	}
	for _, name := range names {
		dst := filepath.Join(cacheDir, name)
		crc, err := rio.CRC32(dst)
		if err != nil {
			return errors.Wrapf(err, "scavenge: crc restored file %s", dst)
		}
		if m, ok := fm.GetMeta(dset, rootRank, name); ok {
			fm.SetMeta(dset, rootRank, name, m.SetComplete(true).SetCRC(crc))
		}
	}
	return nil
}

// RunDataset drives the full pipeline for one dataset: scan, group
// into sets, decide a rebuild plan per set, and execute every
// rebuildable set in turn; sets are rebuilt one after another, not
// concurrently. It returns the aggregate of every
// set's error (nil if every set was either already complete or
// successfully rebuilt).
func RunDataset(ctx context.Context, fm *filemap.FileMap, dset int, cacheDir string) error {
	scan := Scan(fm, dset, cacheDir, false)
	sets := GroupBySet(scan)

	var result *multierror.Error
	for _, sp := range sets {
		root, ok, err := Decide(sp)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "set %d", sp.SetID))
			continue
		}
		if !ok {
			continue
		}

		switch sp.Variant {
		case redundancy.VariantXOR:
			if err := RebuildXOR(ctx, fm, dset, cacheDir, sp, root); err != nil {
				result = multierror.Append(result, err)
			}
		case redundancy.VariantPartner:
			partnerDir := filepath.Join(cacheDir, "partner")
			if err := RebuildPartner(fm, dset, cacheDir, partnerDir, sp, root); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	return result.ErrorOrNil()
}
