// Command scr-rebuild-xor reconstructs one missing XOR set member
// purely from its surviving members' parity files and headers,
// without access to a File Map or Index: it is the offline repair
// tool scavenge runs when a node's own cache is gone but its
// redundancy set's other members are still reachable.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LLNL/scr-sub002/pkg/redundancy"
	"github.com/LLNL/scr-sub002/pkg/rio"
)

var rootCmd = &cobra.Command{
	Use:   "scr-rebuild-xor <set-size> <missing-index> <missing-xor-path> <surviving-xor-path>...",
	Short: "Rebuild a missing XOR set member from its surviving parity files",
	Args:  cobra.MinimumNArgs(4),
	RunE:  run,
}

// indexOfRank returns i such that ranks[i] == rank, or -1.
func indexOfRank(ranks []int, rank int) int {
	for i, r := range ranks {
		if r == rank {
			return i
		}
	}
	return -1
}

func run(cmd *cobra.Command, args []string) error {
	setSize, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("scr-rebuild-xor: set_size: %w", err)
	}
	rootIdx, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("scr-rebuild-xor: missing_index: %w", err)
	}
	missingPath := args[2]
	survivingPaths := args[3:]
	if len(survivingPaths) != setSize-1 {
		return fmt.Errorf("scr-rebuild-xor: expected %d surviving paths for set size %d, got %d", setSize-1, setSize, len(survivingPaths))
	}

	headers := make(map[int]*redundancy.Header, len(survivingPaths))
	var ranks []int
	var chunkSize int64
	var checkpointID int

	survivors := make([]redundancy.SurvivorSource, 0, len(survivingPaths))
	var closers []*os.File
	defer func() {
		for _, f := range closers {
			f.Close()
		}
	}()

	for _, path := range survivingPaths {
		hdr, err := redundancy.ReadHeader(path)
		if err != nil {
			return fmt.Errorf("scr-rebuild-xor: read header for %s: %w", path, err)
		}
		if ranks == nil {
			ranks = hdr.Ranks
			chunkSize = hdr.ChunkSize
			checkpointID = hdr.CheckpointID
		}
		idx := indexOfRank(ranks, hdr.MyRank)
		if idx < 0 {
			return fmt.Errorf("scr-rebuild-xor: %s's rank %d is not a member of set %v", path, hdr.MyRank, ranks)
		}
		headers[idx] = hdr

		dir := filepath.Dir(path)
		files := make([]*os.File, 0, len(hdr.MyFiles))
		sizes := make([]int64, 0, len(hdr.MyFiles))
		for _, fe := range hdr.MyFiles {
			f, err := os.Open(filepath.Join(dir, fe.Name))
			if err != nil {
				return fmt.Errorf("scr-rebuild-xor: open %s: %w", fe.Name, err)
			}
			closers = append(closers, f)
			size, _ := fe.Meta.Size()
			files = append(files, f)
			sizes = append(sizes, size)
		}

		parity, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("scr-rebuild-xor: read parity payload %s: %w", path, err)
		}

		survivors = append(survivors, redundancy.SurvivorSource{
			Index:  idx,
			Data:   rio.NewPaddedFileSet(files, sizes),
			Parity: parity,
		})
	}

	data, parity, err := redundancy.RebuildMissingMember(context.Background(), setSize, rootIdx, survivors, chunkSize)
	if err != nil {
		return fmt.Errorf("scr-rebuild-xor: rebuild: %w", err)
	}

	leftIdx := (rootIdx - 1 + setSize) % setSize
	rightIdx := (rootIdx + 1) % setSize
	leftHdr, ok := headers[leftIdx]
	if !ok {
		return fmt.Errorf("scr-rebuild-xor: missing header for left neighbor at index %d", leftIdx)
	}
	rightHdr, ok := headers[rightIdx]
	if !ok {
		return fmt.Errorf("scr-rebuild-xor: missing header for right neighbor at index %d", rightIdx)
	}
	missingHeader := redundancy.ReconstructHeader(ranks, ranks[rootIdx], chunkSize, checkpointID, rightHdr, leftHdr)

	dir := filepath.Dir(missingPath)
	if err := rio.Mkdir(dir, 0700); err != nil {
		return fmt.Errorf("scr-rebuild-xor: create %s: %w", dir, err)
	}

	var offset int64
	for _, fe := range missingHeader.MyFiles {
		size, _ := fe.Meta.Size()
		if offset+size > int64(len(data)) {
			return fmt.Errorf("scr-rebuild-xor: reconstructed data too short for %s", fe.Name)
		}
		dst := filepath.Join(dir, fe.Name)
		if err := os.WriteFile(dst, data[offset:offset+size], 0600); err != nil {
			return fmt.Errorf("scr-rebuild-xor: write recovered file %s: %w", dst, err)
		}
		offset += size

		if wantCRC, ok := fe.Meta.CRC(); ok {
			gotCRC, err := rio.CRC32(dst)
			if err != nil {
				return fmt.Errorf("scr-rebuild-xor: crc recovered file %s: %w", dst, err)
			}
			if gotCRC != wantCRC {
				return fmt.Errorf("scr-rebuild-xor: %w for recovered file %s", redundancy.ErrCRCMismatch, dst)
			}
		}
	}

	if err := os.WriteFile(missingPath, parity, 0600); err != nil {
		return fmt.Errorf("scr-rebuild-xor: write rebuilt parity file %s: %w", missingPath, err)
	}
	if err := redundancy.WriteHeader(missingPath, missingHeader); err != nil {
		return fmt.Errorf("scr-rebuild-xor: write rebuilt header for %s: %w", missingPath, err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scr-rebuild-xor:", err)
		os.Exit(1)
	}
}
