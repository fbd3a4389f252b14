// Package ledger persists hostnames that failed to resolve to any platform.
// The ledger file is plain text: a literal "domain" header line followed by
// one hostname per line. Appends go through a single long-lived writer
// goroutine, so there is at most one in-flight write at any time no matter
// how many lookups miss concurrently.
package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/annedurand/ezpaarse/internal/log"
)

const (
	// Header is the mandatory first line of the ledger file.
	Header = "domain"

	// DefaultFileName is the ledger file name under the working directory.
	DefaultFileName = "platforms-miss.csv"

	// DefaultQueueSize bounds how many recorded misses may wait for the
	// writer before new ones are dropped.
	DefaultQueueSize = 256
)

// MissCache decides which recorded hostnames are still unresolved.
// Implemented by the registry: AddMiss reports whether the hostname is a new
// miss placeholder rather than a now-registered domain.
type MissCache interface {
	AddMiss(domain string) bool
}

// entry is one unit of work for the writer goroutine. A nil sync channel
// means "append this domain"; a non-nil one is a flush barrier that is closed
// once every earlier entry has been handled.
type entry struct {
	domain string
	sync   chan struct{}
}

// Ledger records missing domains durably. Construct with New; Close stops the
// writer after draining what was recorded.
type Ledger struct {
	path string

	queue chan entry
	done  chan struct{}
	wg    sync.WaitGroup

	// fileMu serializes incremental appends against wholesale rewrites.
	fileMu sync.Mutex

	writeErrors atomic.Int64
	lastError   atomic.Value
	dropped     atomic.Int64
	closed      atomic.Bool
}

// New creates a ledger backed by the file at path and starts the writer
// goroutine. The file is not created until the first append or reconcile.
func New(path string) *Ledger {
	return NewWithQueueSize(path, DefaultQueueSize)
}

// NewWithQueueSize creates a ledger with a custom pending-queue capacity.
// Sizes <= 0 fall back to DefaultQueueSize.
func NewWithQueueSize(path string, queueSize int) *Ledger {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	l := &Ledger{
		path:  path,
		queue: make(chan entry, queueSize),
		done:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.drainLoop()

	return l
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Record enqueues a hostname for appending and returns immediately. When the
// queue is full the hostname is dropped and counted rather than blocking the
// lookup path.
func (l *Ledger) Record(domain string) {
	if l.closed.Load() {
		return
	}

	select {
	case l.queue <- entry{domain: domain}:
	default:
		l.dropped.Add(1)
		log.Warn(log.CatLedger, "miss queue full, dropping", "domain", domain)
	}
}

// Flush blocks until every hostname recorded before the call has been
// appended (or had its append failure logged). Safe to call concurrently
// with Record.
func (l *Ledger) Flush() {
	if l.closed.Load() {
		return
	}

	barrier := make(chan struct{})
	select {
	case l.queue <- entry{sync: barrier}:
		select {
		case <-barrier:
		case <-l.done:
		}
	case <-l.done:
	}
}

// Close stops the writer goroutine after draining pending entries.
func (l *Ledger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return os.ErrClosed
	}

	close(l.done)
	l.wg.Wait()
	return nil
}

// ErrorCount returns how many appends have failed since construction.
func (l *Ledger) ErrorCount() int64 {
	return l.writeErrors.Load()
}

// LastError returns the most recent append error, or nil.
func (l *Ledger) LastError() error {
	if err := l.lastError.Load(); err != nil {
		return err.(error)
	}
	return nil
}

// Dropped returns how many recorded hostnames were discarded because the
// queue was full.
func (l *Ledger) Dropped() int64 {
	return l.dropped.Load()
}

// drainLoop is the single writer. Entries are handled strictly in enqueue
// order; a failed append is logged and the loop moves on.
func (l *Ledger) drainLoop() {
	defer l.wg.Done()

	for {
		select {
		case e := <-l.queue:
			l.handle(e)
		case <-l.done:
			// Drain whatever is still pending before exiting.
			for {
				select {
				case e := <-l.queue:
					l.handle(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Ledger) handle(e entry) {
	if e.sync != nil {
		close(e.sync)
		return
	}

	if err := l.append(e.domain); err != nil {
		l.writeErrors.Add(1)
		l.lastError.Store(err)
		log.ErrorErr(log.CatLedger, "append failed", err, "domain", e.domain)
	}
}

// append writes "\n" + domain to the ledger file. The header, if missing, is
// repaired by the next reconciliation, not here.
func (l *Ledger) append(domain string) error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // G304: configured ledger path
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString("\n" + domain); err != nil {
		return fmt.Errorf("append %s: %w", domain, err)
	}
	return nil
}

// Reconcile rewrites the ledger against the current registry state. Pending
// appends are flushed first. A file whose first line is not the header is
// reset to the header alone, discarding the untrusted body. Otherwise every
// recorded hostname is offered to the cache and only the ones still
// unresolved are kept, case-insensitively sorted. An absent file is treated
// as empty.
func (l *Ledger) Reconcile(cache MissCache) error {
	l.Flush()

	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read ledger: %w", err)
	}

	var kept []string
	if err == nil {
		lines := strings.Split(string(data), "\n")
		if lines[0] == Header {
			for _, line := range lines[1:] {
				if line == "" {
					continue
				}
				if cache.AddMiss(line) {
					kept = append(kept, line)
				}
			}
		} else {
			log.Warn(log.CatLedger, "header missing, resetting file", "path", l.path)
		}
	}

	slices.SortFunc(kept, func(a, b string) int {
		if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	content := Header
	for _, domain := range kept {
		content += "\n" + domain
	}

	if err := os.WriteFile(l.path, []byte(content), 0644); err != nil { //nolint:gosec // G306: ledger is a shared plain-text artifact
		return fmt.Errorf("rewrite ledger: %w", err)
	}

	log.Info(log.CatLedger, "reconciled", "kept", len(kept), "path", l.path)
	return nil
}
