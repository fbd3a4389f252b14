package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/annedurand/ezpaarse/internal/ledger"
	"github.com/annedurand/ezpaarse/internal/presentation"
)

var missesCmd = &cobra.Command{
	Use:   "misses",
	Short: "Print the missing-domain ledger",
	Long: `Print the hostnames recorded as unresolved in the miss ledger. The
ledger is the triage list for platforms not yet supported: each entry
is a hostname that reached the resolver without any platform claiming
it. Rebuilds prune entries that have since gained a parser.

Examples:
  # Ledger contents
  ezpaarse misses

  # Just the hostnames
  ezpaarse misses | jq -r '.domains[]'`,
	RunE: runMisses,
}

func init() {
	rootCmd.AddCommand(missesCmd)
}

func runMisses(cmd *cobra.Command, _ []string) error {
	cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	formatter, err := newFormatter()
	if err != nil {
		return err
	}

	domains, err := readLedger(cfg.Ledger.Path)
	if err != nil {
		return err
	}

	return formatter.FormatMisses(presentation.MissesDTO{
		Path:    cfg.Ledger.Path,
		Count:   len(domains),
		Domains: domains,
	})
}

// readLedger parses the ledger file: a literal header line followed by one
// hostname per line. An absent file reads as empty; a file without the header
// is reported rather than guessed at.
func readLedger(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: configured ledger path
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	if lines[0] != ledger.Header {
		return nil, fmt.Errorf("ledger %s has no %q header; run rebuild to repair it", path, ledger.Header)
	}

	domains := make([]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if line != "" {
			domains = append(domains, line)
		}
	}
	return domains, nil
}
