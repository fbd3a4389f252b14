// Package watcher watches the platforms directory and reports which platform
// changed, debounced per platform so editor write bursts and pkb refreshes
// coalesce into one event.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/annedurand/ezpaarse/internal/catalog"
	"github.com/annedurand/ezpaarse/internal/log"
)

// Event reports a change under one platform directory. The platform may have
// been edited, created or removed; consumers reload it and find out.
type Event struct {
	Platform string
}

// Config holds watcher configuration options.
type Config struct {
	Root     string        // platforms root directory
	Skeleton string        // template directory name, ignored
	Debounce time.Duration // per-platform quiet window before an event fires
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(root string) Config {
	return Config{
		Root:     root,
		Skeleton: catalog.DefaultSkeleton,
		Debounce: 1 * time.Second,
	}
}

// Watcher monitors the platforms root and its platform subdirectories.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	skeleton  string
	debounce  time.Duration

	events chan Event
	fired  chan string
	timers map[string]*time.Timer
	done   chan struct{}
}

// New creates a new platforms watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		root:      filepath.Clean(cfg.Root),
		skeleton:  cfg.Skeleton,
		debounce:  cfg.Debounce,
		events:    make(chan Event, 16),
		fired:     make(chan string, 16),
		timers:    make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the root, every platform directory and any pkb
// subdirectory. Returns the channel change events are delivered on.
func (w *Watcher) Start() (<-chan Event, error) {
	if err := w.fsWatcher.Add(w.root); err != nil {
		return nil, fmt.Errorf("watching %s: %w", w.root, err)
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", w.root, err)
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || e.Name() == w.skeleton {
			continue
		}
		dir := filepath.Join(w.root, e.Name())
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
		pkbDir := filepath.Join(dir, "pkb")
		if info, err := os.Stat(pkbDir); err == nil && info.IsDir() {
			if err := w.fsWatcher.Add(pkbDir); err != nil {
				return nil, fmt.Errorf("watching %s: %w", pkbDir, err)
			}
		}
	}

	go w.loop()

	return w.events, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case platform := <-w.fired:
			delete(w.timers, platform)
			// Non-blocking send - a slow consumer loses coalesced events,
			// not ordering.
			select {
			case w.events <- Event{Platform: platform}:
			default:
				log.Warn(log.CatWatch, "change event dropped", "platform", platform)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatch, "watch error", "error", err.Error())

		case <-w.done:
			for _, t := range w.timers {
				t.Stop()
			}
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	platform := parts[0]
	if strings.HasPrefix(platform, ".") || platform == w.skeleton {
		return
	}
	// Hidden files inside a platform are editor droppings.
	if len(parts) > 1 && strings.HasPrefix(parts[len(parts)-1], ".") {
		return
	}

	info, statErr := os.Stat(event.Name)

	// Plain files at the root are not platforms. Removed entries cannot be
	// stat'd; let the reload discover what happened.
	if len(parts) == 1 && statErr == nil && !info.IsDir() {
		return
	}

	// A new platform or pkb directory; watch inside it.
	if event.Op&fsnotify.Create != 0 && statErr == nil && info.IsDir() {
		if err := w.fsWatcher.Add(event.Name); err != nil {
			log.Warn(log.CatWatch, "watch add failed", "dir", event.Name, "error", err.Error())
		}
	}

	w.bump(platform)
}

// bump starts or extends the platform's debounce window.
func (w *Watcher) bump(platform string) {
	if t, ok := w.timers[platform]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[platform] = time.AfterFunc(w.debounce, func() {
		select {
		case w.fired <- platform:
		case <-w.done:
		}
	})
}
