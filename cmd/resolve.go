package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/annedurand/ezpaarse/internal/presentation"
)

var resolveQuiet bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <domain>...",
	Short: "Look up which platform parsers claim a hostname",
	Long: `Build the domain index, then resolve each hostname to its parser
candidates. A hostname claimed by several platforms lists every
candidate in registration order; picking among them is left to the
enrichment pipeline.

A hostname no platform claims resolves to nothing and is appended to
the miss ledger, unless --quiet is given.

Examples:
  # One lookup
  ezpaarse resolve www.sciencedirect.com

  # Several lookups, no ledger writes
  ezpaarse resolve --quiet a.example.com b.example.com

  # Candidate platforms only
  ezpaarse resolve www.sciencedirect.com | jq '.candidates[].platform'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().BoolVarP(&resolveQuiet, "quiet", "q", false,
		"do not record unresolved hostnames in the miss ledger")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
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

	for _, domain := range args {
		var dto presentation.ResolutionDTO
		if resolveQuiet {
			bindings, ok := svc.Registry().ResolveQuiet(domain)
			dto = presentation.FromResolution(domain, bindings, ok)
		} else {
			bindings, ok := svc.Resolve(cmd.Context(), domain)
			dto = presentation.FromResolution(domain, bindings, ok)
		}
		if err := formatter.FormatResolution(dto); err != nil {
			return err
		}
	}
	return nil
}
