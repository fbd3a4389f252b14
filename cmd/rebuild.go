package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/annedurand/ezpaarse/internal/presentation"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Scan the platforms directory and rebuild the domain index",
	Long: `Scan every platform directory, register its declared and
knowledge-base domains, then reconcile the miss ledger: hostnames that
gained a parser since the last scan are dropped from it.

A platform with a broken manifest or a missing parser file is reported
and skipped; the scan itself only fails when the platforms directory
cannot be listed.

Examples:
  # Rebuild and print the scan summary
  ezpaarse rebuild

  # Rebuild a specific platforms checkout, YAML summary
  ezpaarse rebuild -p /data/platforms -o yaml

  # Count failed platforms with jq
  ezpaarse rebuild | jq '.failures | length'`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	formatter, err := newFormatter()
	if err != nil {
		return err
	}

	svc, err := newService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	res, err := svc.Rebuild(cmd.Context())
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}

	return formatter.FormatScan(presentation.FromScanResult(res))
}
