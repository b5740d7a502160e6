package scavenge

import (
	"fmt"
	"path/filepath"

	"github.com/LLNL/scr-sub002/pkg/filemap"
	"github.com/LLNL/scr-sub002/pkg/meta"
	"github.com/LLNL/scr-sub002/pkg/rio"
)

// RankScan is the scan result for one rank of one dataset: whether
// its expected files are all present, readable, and the right size
// (see filemap.HaveFiles), and its redundancy descriptor, if one was
// recorded. Invalid marks a structural inconsistency (as opposed to
// merely missing data) caught during Inspect; a rank in this state is
// never a rebuild candidate, only grounds to call its set
// unrecoverable.
type RankScan struct {
	Rank          int
	Complete      bool
	Descriptor    Descriptor
	HasDescriptor bool
	Invalid       bool
	InvalidReason string
}

// DatasetScan is the scan result for every rank a dataset has any
// record of.
type DatasetScan struct {
	ID    int
	Ranks map[int]RankScan
}

// Scan inspects every rank of dset recorded in fm, checking each
// file against its Meta the same way a live checkpoint would: do we
// have as many files as expected, can we read each one, and does its
// size (and, if checkCRC, its CRC32) match. checkCRC is off by
// default in most callers since a full CRC recompute over a large
// cache is expensive; turn it on for a thorough post-failure scan.
//
// Beyond that per-file check, Scan also inspects each rank's
// standing among its peers: its recorded RANKS must agree with the
// value every other rank in the dataset recorded, its own rank
// number must fall within that count, and it must not have ended up
// with more files on disk than it promised via SetExpectedFiles. A
// rank that fails any of these is marked Invalid rather than merely
// incomplete, since no amount of rebuilding fixes a corrupted
// record.
func Scan(fm *filemap.FileMap, dset int, cacheDir string, checkCRC bool) *DatasetScan {
	var crcFn func(string) (uint32, error)
	if checkCRC {
		crcFn = rio.CRC32
	}
	isComplete := func(path string, m *meta.Meta) bool {
		return m.IsComplete(path, crcFn)
	}
	resolve := func(relpath string) string {
		return filepath.Join(cacheDir, relpath)
	}

	ranks := fm.RanksForDataset(dset)
	commonRanks := commonRankCount(fm, dset, ranks)

	scan := &DatasetScan{ID: dset, Ranks: map[int]RankScan{}}
	for _, rank := range ranks {
		rs := RankScan{
			Rank:     rank,
			Complete: fm.HaveFiles(dset, rank, resolve, isComplete),
		}
		if dt, ok := fm.GetDesc(dset, rank); ok {
			if d, err := DescriptorFromTree(dt); err == nil {
				rs.Descriptor = d
				rs.HasDescriptor = true
			}
		}
		rs.Invalid, rs.InvalidReason = inspectRank(fm, dset, rank, commonRanks)
		scan.Ranks[rank] = rs
	}
	return scan
}

// commonRankCount returns the RANKS value recorded by the largest
// number of a dataset's files, the value every rank's own files are
// expected to agree on. Zero if no file recorded one.
func commonRankCount(fm *filemap.FileMap, dset int, ranks []int) int64 {
	votes := map[int64]int{}
	for _, rank := range ranks {
		for _, name := range fm.ListFiles(dset, rank) {
			m, ok := fm.GetMeta(dset, rank, name)
			if !ok {
				continue
			}
			if n, ok := m.Ranks(); ok {
				votes[n]++
			}
		}
	}
	var best int64
	var bestCount int
	for n, c := range votes {
		if c > bestCount {
			best, bestCount = n, c
		}
	}
	return best
}

// inspectRank flags rank as structurally invalid when any file it
// owns disagrees with the dataset's common RANKS count, its own
// rank number falls outside that count, or it holds more files than
// it promised.
func inspectRank(fm *filemap.FileMap, dset, rank int, commonRanks int64) (bool, string) {
	if commonRanks > 0 && (int64(rank) < 0 || int64(rank) >= commonRanks) {
		return true, fmt.Sprintf("rank %d out of range for RANKS=%d", rank, commonRanks)
	}

	names := fm.ListFiles(dset, rank)
	if expect := fm.GetExpectedFiles(dset, rank); expect >= 0 && len(names) > expect {
		return true, fmt.Sprintf("rank %d has %d files, more than the %d promised", rank, len(names), expect)
	}

	for _, name := range names {
		m, ok := fm.GetMeta(dset, rank, name)
		if !ok {
			continue
		}
		if n, ok := m.Ranks(); ok && commonRanks > 0 && n != commonRanks {
			return true, fmt.Sprintf("rank %d file %s RANKS=%d conflicts with common RANKS=%d", rank, name, n, commonRanks)
		}
	}
	return false, ""
}
