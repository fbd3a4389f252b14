package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/annedurand/ezpaarse/internal/presentation"
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "Dump the hostname index",
	Long: `Build the domain index and print every registered hostname with the
platforms claiming it, sorted by hostname. Hostnames only known as
misses are left out.

Examples:
  # Full index
  ezpaarse domains

  # Hostnames claimed by more than one platform
  ezpaarse domains | jq '.[] | select(.platforms | length > 1)'`,
	RunE: runDomains,
}

func init() {
	rootCmd.AddCommand(domainsCmd)
}

func runDomains(cmd *cobra.Command, _ []string) error {
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

	if _, err := svc.Rebuild(cmd.Context()); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}

	return formatter.FormatDomains(presentation.FromDomainIndex(svc.Registry().Domains()))
}
