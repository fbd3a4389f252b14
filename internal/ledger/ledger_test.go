package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// missCache is a test MissCache with the registry's semantics: a hostname is
// accepted once unless it is already resolved.
type missCache struct {
	resolved map[string]bool
	seen     map[string]bool
}

func newMissCache(resolved ...string) *missCache {
	c := &missCache{resolved: make(map[string]bool), seen: make(map[string]bool)}
	for _, d := range resolved {
		c.resolved[d] = true
	}
	return c
}

func (c *missCache) AddMiss(domain string) bool {
	if c.resolved[domain] || c.seen[domain] {
		return false
	}
	c.seen[domain] = true
	return true
}

func readLedger(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	return string(data)
}

func TestLedger_RecordAppendsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	l := New(path)
	defer l.Close()

	l.Record("x.example.com")
	l.Record("y.example.com")
	l.Record("z.example.com")
	l.Flush()

	got := readLedger(t, path)
	want := "\nx.example.com\ny.example.com\nz.example.com"
	if got != want {
		t.Errorf("ledger content mismatch:\nwant %q\ngot  %q", want, got)
	}
}

func TestLedger_CloseDrainsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	l := New(path)

	l.Record("a.example.com")
	l.Record("b.example.com")

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := readLedger(t, path)
	if got != "\na.example.com\nb.example.com" {
		t.Errorf("pending entries lost on close, got %q", got)
	}
}

func TestLedger_CloseIdempotent(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), DefaultFileName))

	if err := l.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := l.Close(); err != os.ErrClosed {
		t.Errorf("second Close: expected os.ErrClosed, got %v", err)
	}
}

func TestLedger_RecordAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	l := New(path)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	l.Record("late.example.com") // must not panic or write
	l.Flush()                    // must not block

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("no file should exist after post-close record, stat err = %v", err)
	}
}

func TestLedger_ExactlyOnceAccounting(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	l := NewWithQueueSize(path, 1)
	defer l.Close()

	const total = 500
	for i := 0; i < total; i++ {
		l.Record(fmt.Sprintf("host-%04d.example.com", i))
	}
	l.Flush()

	got := readLedger(t, path)
	var written []string
	for _, line := range strings.Split(got, "\n") {
		if line != "" {
			written = append(written, line)
		}
	}

	if int64(len(written))+l.Dropped() != total {
		t.Fatalf("accounting broken: %d written + %d dropped != %d", len(written), l.Dropped(), total)
	}

	// Whatever survived the queue must appear in enqueue order, whole lines
	// only.
	prev := ""
	for _, line := range written {
		if !strings.HasPrefix(line, "host-") || !strings.HasSuffix(line, ".example.com") {
			t.Fatalf("partial or corrupted line: %q", line)
		}
		if line <= prev {
			t.Fatalf("lines out of enqueue order: %q after %q", line, prev)
		}
		prev = line
	}
}

func TestLedger_FailedAppendAdvancesQueue(t *testing.T) {
	// A directory path makes every append fail.
	dir := t.TempDir()
	l := New(dir)
	defer l.Close()

	l.Record("a.example.com")
	l.Record("b.example.com")
	l.Flush() // must return: failed appends still advance the queue

	if l.ErrorCount() != 2 {
		t.Errorf("expected 2 append errors, got %d", l.ErrorCount())
	}
	if l.LastError() == nil {
		t.Error("LastError should report the failure")
	}
}

func TestLedger_Reconcile_DropsResolvedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("domain\na.example.com\nb.example.com"), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(path)
	defer l.Close()

	// a.example.com is now registered by a platform; b is still unresolved.
	if err := l.Reconcile(newMissCache("a.example.com")); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got := readLedger(t, path)
	if got != "domain\nb.example.com" {
		t.Errorf("expected resolved entry dropped, got %q", got)
	}
}

func TestLedger_Reconcile_RepairsHeader(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "corrupted header", content: "not-the-header\nx.example.com"},
		{name: "empty file", content: ""},
		{name: "hostname in first line", content: "x.example.com\ny.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DefaultFileName)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			l := New(path)
			defer l.Close()

			if err := l.Reconcile(newMissCache()); err != nil {
				t.Fatalf("Reconcile failed: %v", err)
			}

			if got := readLedger(t, path); got != Header {
				t.Errorf("expected bare header after repair, got %q", got)
			}
		})
	}
}

func TestLedger_Reconcile_AbsentFileBecomesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)

	l := New(path)
	defer l.Close()

	if err := l.Reconcile(newMissCache()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if got := readLedger(t, path); got != Header {
		t.Errorf("expected bare header, got %q", got)
	}
}

func TestLedger_Reconcile_SortsCaseInsensitively(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("domain\nZebra.example.com\napple.example.com\nMango.example.com"), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(path)
	defer l.Close()

	if err := l.Reconcile(newMissCache()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got := readLedger(t, path)
	want := "domain\napple.example.com\nMango.example.com\nZebra.example.com"
	if got != want {
		t.Errorf("sort order wrong:\nwant %q\ngot  %q", want, got)
	}
}

func TestLedger_Reconcile_DeduplicatesThroughCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("domain\ndup.example.com\ndup.example.com\nother.example.com"), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(path)
	defer l.Close()

	if err := l.Reconcile(newMissCache()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got := readLedger(t, path)
	if got != "domain\ndup.example.com\nother.example.com" {
		t.Errorf("expected duplicate collapsed, got %q", got)
	}
}

func TestLedger_Reconcile_FlushesPendingRecordsFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(Header), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(path)
	defer l.Close()

	l.Record("pending.example.com")
	if err := l.Reconcile(newMissCache()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got := readLedger(t, path)
	if got != "domain\npending.example.com" {
		t.Errorf("pending record lost by reconcile, got %q", got)
	}
}

func TestLedger_Reconcile_UnreadablePathErrors(t *testing.T) {
	dir := t.TempDir() // reading a directory fails with a non-NotExist error

	l := New(dir)
	defer l.Close()

	if err := l.Reconcile(newMissCache()); err == nil {
		t.Error("expected an error for an unreadable ledger path")
	}
}
