// Command scr-rebuild-partner restores either a dead rank's data
// files or its File Map snapshot from copies its partner made in its
// shared "partner" directory: "data" mode recovers the files
// themselves (destined for the dataset directory the partner
// directory sits under), "map" mode recovers the ".scrfilemap"
// snapshot (destined for the cache root the dataset directory sits
// under).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/LLNL/scr-sub002/pkg/redundancy"
)

var rootCmd = &cobra.Command{
	Use:   "scr-rebuild-partner {data|map} <partner-file>...",
	Short: "Restore a dead rank's data files or File Map from partner copies",
	Args:  cobra.MinimumNArgs(2),
	RunE:  run,
}

// destDirFor returns the directory a partner-copied file should be
// restored into, given its mode: "data" restores into the dataset
// directory the partner directory sits under; "map" restores into
// the cache root the dataset directory itself sits under (since a
// rank's ".scrfilemap" snapshot lives at the cache root, not inside
// any one dataset's directory).
func destDirFor(mode, partnerFile string) (string, error) {
	partnerDir := filepath.Dir(partnerFile)
	if filepath.Base(partnerDir) != "partner" {
		return "", fmt.Errorf("%s does not sit under a \"partner\" directory", partnerFile)
	}
	datasetDir := filepath.Dir(partnerDir)
	switch mode {
	case "data":
		return datasetDir, nil
	case "map":
		return filepath.Dir(datasetDir), nil
	default:
		return "", fmt.Errorf("unknown mode %q, want \"data\" or \"map\"", mode)
	}
}

func run(cmd *cobra.Command, args []string) error {
	mode := args[0]
	if mode != "data" && mode != "map" {
		return fmt.Errorf("scr-rebuild-partner: unknown mode %q, want \"data\" or \"map\"", mode)
	}

	for _, partnerFile := range args[1:] {
		destDir, err := destDirFor(mode, partnerFile)
		if err != nil {
			return fmt.Errorf("scr-rebuild-partner: %w", err)
		}
		srcDir := filepath.Dir(partnerFile)
		name := filepath.Base(partnerFile)
		if err := redundancy.DecodePartner([]string{name}, srcDir, destDir); err != nil {
			return fmt.Errorf("scr-rebuild-partner: restore %s: %w", partnerFile, err)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scr-rebuild-partner:", err)
		os.Exit(1)
	}
}
