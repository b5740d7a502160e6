// Command scr-copy flushes one dataset's cache files out to the
// prefix directory and writes its Summary. It runs once per compute
// node during scavenge, reading every rank's persisted File Map
// snapshot out of the control directory and copying the dataset's
// files from the shared cache directory into dstdir.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LLNL/scr-sub002/pkg/dataset"
	"github.com/LLNL/scr-sub002/pkg/filemap"
	"github.com/LLNL/scr-sub002/pkg/rio"
	"github.com/LLNL/scr-sub002/pkg/scavenge"
	"github.com/LLNL/scr-sub002/pkg/summary"
)

var (
	flagCntlDir    string
	flagID         int
	flagDstDir     string
	flagBufSize    int
	flagCRC        bool
	flagPartner    bool
	flagContainers bool
)

var rootCmd = &cobra.Command{
	Use:   "scr-copy",
	Short: "Flush a dataset's cache files to the prefix directory",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagCntlDir, "cntldir", "", "control directory holding per-rank File Map snapshots and cache files")
	flags.IntVar(&flagID, "id", -1, "dataset id to flush")
	flags.StringVar(&flagDstDir, "dstdir", "", "destination directory under the prefix directory")
	flags.IntVar(&flagBufSize, "buf", 1<<20, "copy buffer size in bytes")
	flags.BoolVar(&flagCRC, "crc", false, "verify each file's CRC32 against its Meta record before copying")
	flags.BoolVar(&flagPartner, "partner", false, "attempt a local redundancy rebuild of missing files before copying")
	flags.BoolVar(&flagContainers, "containers", false, "pack small files into containers (unsupported; accepted for command-line compatibility)")
	_ = rootCmd.MarkFlagRequired("cntldir")
	_ = rootCmd.MarkFlagRequired("dstdir")
}

// loadMergedFileMap reads every rank's persisted File Map snapshot
// under cntldir (named "<rank>.scrfilemap", matching
// pkg/runtime's own naming convention) and merges them into one
// FileMap covering the whole dataset.
func loadMergedFileMap(cntldir string) (*filemap.FileMap, error) {
	entries, err := os.ReadDir(cntldir)
	if err != nil {
		return nil, fmt.Errorf("scr-copy: read control directory %s: %w", cntldir, err)
	}

	merged := filemap.New()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".scrfilemap") {
			continue
		}
		mfm, err := filemap.Read(filepath.Join(cntldir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("scr-copy: read %s: %w", e.Name(), err)
		}
		merged.Merge(mfm)
	}
	return merged, nil
}

// datasetDescriptor returns the dataset descriptor any one of ranks
// recorded for id, so the flushed summary can carry it forward for a
// later scr-index --add to recognize the directory by. Every rank
// records the same descriptor at StartOutput time, so the first one
// found is as good as any.
func datasetDescriptor(fm *filemap.FileMap, id int, ranks []int) (*dataset.Dataset, bool) {
	for _, rank := range ranks {
		if t, ok := fm.GetDataset(id, rank); ok {
			return dataset.FromTree(t), true
		}
	}
	return nil, false
}

func datasetDirName(id int) string {
	return fmt.Sprintf("scr.dataset.%d", id)
}

func copyFileBuffered(src, dst string, bufSize int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := rio.Mkdir(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if bufSize <= 0 {
		bufSize = 1 << 20
	}
	w := bufio.NewWriterSize(out, bufSize)
	if _, err := io.Copy(w, bufio.NewReaderSize(in, bufSize)); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return out.Sync()
}

func run(cmd *cobra.Command, args []string) error {
	if flagID < 0 {
		return fmt.Errorf("scr-copy: --id is required")
	}
	if flagContainers {
		fmt.Fprintln(os.Stderr, "scr-copy: --containers is not supported; flushing one file per cache entry")
	}
	if err := rio.Mkdir(flagDstDir, 0700); err != nil {
		return fmt.Errorf("scr-copy: create %s: %w", flagDstDir, err)
	}

	fm, err := loadMergedFileMap(flagCntlDir)
	if err != nil {
		return err
	}

	cacheDir := filepath.Join(flagCntlDir, datasetDirName(flagID))

	if flagPartner {
		if err := scavenge.RunDataset(context.Background(), fm, flagID, cacheDir); err != nil {
			fmt.Fprintf(os.Stderr, "scr-copy: dataset %d rebuild incomplete: %v\n", flagID, err)
		}
	}

	ranks := fm.RanksForDataset(flagID)
	sort.Ints(ranks)

	complete := map[int]bool{}
	for _, rank := range ranks {
		rankOK := true
		for _, name := range fm.ListFiles(flagID, rank) {
			m, ok := fm.GetMeta(flagID, rank, name)
			if !ok {
				rankOK = false
				continue
			}
			src := filepath.Join(cacheDir, name)
			if flagCRC {
				if !m.IsComplete(src, rio.CRC32) {
					rankOK = false
					fmt.Fprintf(os.Stderr, "scr-copy: %s failed CRC verification, skipping\n", src)
					continue
				}
			}
			dst := filepath.Join(flagDstDir, name)
			if err := copyFileBuffered(src, dst, flagBufSize); err != nil {
				rankOK = false
				fmt.Fprintf(os.Stderr, "scr-copy: copy %s: %v\n", src, err)
				continue
			}
		}
		complete[rank] = rankOK
	}

	isComplete := func(dset, rank int) bool {
		return dset == flagID && complete[rank]
	}
	s := summary.BuildFromFileMap(fm, flagID, isComplete)
	if ds, ok := datasetDescriptor(fm, flagID, ranks); ok {
		s.SetDataset(ds)
	}

	metaDir := filepath.Join(flagDstDir, summary.MetaDirName)
	if err := rio.Mkdir(metaDir, 0700); err != nil {
		return fmt.Errorf("scr-copy: create %s: %w", metaDir, err)
	}
	if err := summary.WriteSharded(metaDir, s); err != nil {
		return fmt.Errorf("scr-copy: write summary: %w", err)
	}

	for _, rank := range ranks {
		if !complete[rank] {
			return fmt.Errorf("scr-copy: dataset %d incomplete: rank %d missing or failed files", flagID, rank)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scr-copy:", err)
		os.Exit(1)
	}
}
