package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/annedurand/ezpaarse/internal/config"
)

func TestDefaults_PassValidation(t *testing.T) {
	require.NoError(t, config.Validate(config.Defaults()))
}

func TestReadLedger_AbsentFileReadsEmpty(t *testing.T) {
	domains, err := readLedger(filepath.Join(t.TempDir(), "platforms-miss.csv"))
	require.NoError(t, err)
	require.Empty(t, domains)
}

func TestReadLedger_ParsesHeaderAndHostnames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms-miss.csv")
	require.NoError(t, os.WriteFile(path, []byte("domain\na.example.com\nb.example.com"), 0o644))

	domains, err := readLedger(path)
	require.NoError(t, err)
	require.Equal(t, []string{"a.example.com", "b.example.com"}, domains)
}

func TestReadLedger_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms-miss.csv")
	require.NoError(t, os.WriteFile(path, []byte("domain\n\na.example.com\n"), 0o644))

	domains, err := readLedger(path)
	require.NoError(t, err)
	require.Equal(t, []string{"a.example.com"}, domains)
}

func TestReadLedger_MissingHeaderIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms-miss.csv")
	require.NoError(t, os.WriteFile(path, []byte("a.example.com\nb.example.com"), 0o644))

	_, err := readLedger(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "header")
}

func TestNewService_MissingPlatformsDirFails(t *testing.T) {
	restore := cfg
	t.Cleanup(func() { cfg = restore })

	cfg = config.Defaults()
	cfg.PlatformsDir = filepath.Join(t.TempDir(), "nope")
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "platforms-miss.csv")

	_, err := newService()
	require.Error(t, err)
}

func TestNewService_WiresFromConfig(t *testing.T) {
	restore := cfg
	t.Cleanup(func() { cfg = restore })

	platforms := t.TempDir()
	cfg = config.Defaults()
	cfg.PlatformsDir = platforms
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "platforms-miss.csv")

	svc, err := newService()
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	res, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Platforms)
}
