// Command scr-index inspects and edits the prefix-directory Index: it
// lists known datasets, adds or removes a directory's entry, or
// overrides which dataset HaveRestart should prefer.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/LLNL/scr-sub002/pkg/index"
	"github.com/LLNL/scr-sub002/pkg/summary"
)

var (
	flagPrefix  string
	flagList    bool
	flagAdd     string
	flagRemove  string
	flagCurrent string
)

var rootCmd = &cobra.Command{
	Use:   "scr-index",
	Short: "Inspect and edit the SCR prefix-directory index",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagPrefix, "prefix", ".", "prefix directory holding index.scr")
	flags.BoolVar(&flagList, "list", false, "list every dataset recorded in the index")
	flags.StringVar(&flagAdd, "add", "", "add the dataset directory's index entry")
	flags.StringVar(&flagRemove, "remove", "", "remove the dataset directory's index entry")
	flags.StringVar(&flagCurrent, "current", "", "mark the dataset directory as the preferred restart target")
}

func indexPath() string {
	return flagPrefix + string(os.PathSeparator) + "index.scr"
}

func run(cmd *cobra.Command, args []string) error {
	switch {
	case flagList:
		return runList()
	case flagAdd != "":
		return runAdd(flagAdd)
	case flagRemove != "":
		return runRemove(flagRemove)
	case flagCurrent != "":
		return runCurrent(flagCurrent)
	default:
		return cmd.Help()
	}
}

// runList prints one row per (dataset, directory) pair recorded in
// the index, prefixing the row currently selected for restart with
// "*", matching the original command-line tool's summary table.
func runList() error {
	ix, err := index.Read(indexPath())
	if err != nil {
		return err
	}

	current, _ := ix.Current()
	fmt.Printf("%-3s %-3s %-3s %-8s %s\n", "", "DSET", "VALID", "FLUSHED", "DIRECTORY")
	for _, id := range ix.Datasets() {
		for _, dir := range ix.Dirs(id) {
			mark := " "
			if dir == current {
				mark = "*"
			}
			valid := "no"
			if ix.Complete(id, dir) {
				valid = "yes"
			}
			flushed := "no"
			if ix.Flushed(id, dir) {
				flushed = "yes"
			}
			fmt.Printf("%-3s %-3d %-3s %-8s %s\n", mark, id, valid, flushed, dir)
		}
	}
	return nil
}

// dirID locates dir's dataset id in the index, the directory itself
// being the only identifying argument the command-line contract
// passes for --remove/--current.
func dirID(ix *index.Index, dir string) (int, bool) {
	return ix.GetIDByDir(dir)
}

// loadOrBuildSummary reads dir's own summary (under its .scr
// subdirectory), rebuilding it from the directory's flushed files if
// it's missing — registering a freshly-flushed, not-yet-indexed
// directory is the entire point of --add, so a missing summary here
// is the expected case, not a failure.
func loadOrBuildSummary(dir string) (*summary.Summary, error) {
	metaDir := filepath.Join(dir, summary.MetaDirName)
	summaryFile := filepath.Join(metaDir, "summary.scr")

	if _, err := os.Stat(summaryFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("scr-index: stat %s: %w", summaryFile, err)
		}
		s, buildErr := summary.BuildFromDataDir(dir)
		if buildErr != nil {
			return nil, fmt.Errorf("scr-index: %q has no summary and none could be built: %w", dir, buildErr)
		}
		if err := os.MkdirAll(metaDir, 0700); err != nil {
			return nil, fmt.Errorf("scr-index: create %s: %w", metaDir, err)
		}
		if err := summary.WriteSharded(metaDir, s); err != nil {
			return nil, fmt.Errorf("scr-index: write rebuilt summary for %s: %w", dir, err)
		}
		return s, nil
	}

	return summary.ReadSharded(metaDir)
}

// runAdd registers dir, a dataset directory not yet known to the
// index (typically freshly flushed by scr-copy), discovering its
// dataset id and completeness from its own summary rather than from
// the index itself — the index doesn't know about dir yet, that's
// the entire reason --add exists.
func runAdd(dir string) error {
	full := filepath.Join(flagPrefix, dir)
	s, err := loadOrBuildSummary(full)
	if err != nil {
		return err
	}
	ds, ok := s.Dataset()
	if !ok {
		return fmt.Errorf("scr-index: %q summary has no dataset descriptor", dir)
	}
	id, ok := ds.ID()
	if !ok {
		return fmt.Errorf("scr-index: %q dataset descriptor has no id", dir)
	}

	return index.Update(indexPath(), func(ix *index.Index) error {
		ix.Add(int(id), dir, s.Complete())
		ix.MarkFlushed(int(id), dir, time.Now())
		return nil
	})
}

func runRemove(dir string) error {
	return index.Update(indexPath(), func(ix *index.Index) error {
		id, ok := dirID(ix, dir)
		if !ok {
			return fmt.Errorf("scr-index: %q is not a known dataset directory", dir)
		}
		ix.RemoveDir(id, dir)
		return nil
	})
}

func runCurrent(dir string) error {
	return index.Update(indexPath(), func(ix *index.Index) error {
		if _, ok := dirID(ix, dir); !ok {
			return fmt.Errorf("scr-index: %q is not a known dataset directory", dir)
		}
		ix.SetCurrent(dir)
		return nil
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scr-index:", err)
		os.Exit(1)
	}
}
