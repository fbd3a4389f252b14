package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/annedurand/ezpaarse/internal/presentation"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms [name]",
	Short: "List registered platforms",
	Long: `Build the domain index and list every registered platform with its
owned-domain count. With a name argument, print that one platform and
the full sorted list of hostnames it owns.

Examples:
  # All platforms
  ezpaarse platforms

  # One platform with its domains
  ezpaarse platforms sciencedirect

  # Platforms sorted by domain count
  ezpaarse platforms | jq 'sort_by(-.domains)'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlatforms,
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}

func runPlatforms(cmd *cobra.Command, args []string) error {
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
	reg := svc.Registry()

	if len(args) == 1 {
		entry, ok := reg.PlatformDomains(args[0])
		if !ok {
			return fmt.Errorf("platform %q is not registered", args[0])
		}
		return formatter.FormatPlatform(presentation.FromPlatformDetail(entry))
	}

	names := reg.Platforms()
	sort.Strings(names)

	dtos := make([]presentation.PlatformDTO, 0, len(names))
	for _, name := range names {
		if entry, ok := reg.PlatformDomains(name); ok {
			dtos = append(dtos, presentation.FromPlatformSummary(entry))
		}
	}
	return formatter.FormatPlatforms(dtos)
}
