// Package handler loads platform parser files and keeps them warm in a TTL
// cache. The registry never interprets handler contents; each binding carries
// the handler path and delegates loading here. Hot reload is an eviction: the
// cached entry is dropped and the next Get re-reads the file.
package handler

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/annedurand/ezpaarse/internal/cache"
	"github.com/annedurand/ezpaarse/internal/log"
	"github.com/annedurand/ezpaarse/internal/registry"
)

// DefaultTTL is how long a loaded handler stays cached without eviction.
const DefaultTTL = 30 * time.Minute

// Handler is one platform's parser as read from disk. The enrichment
// pipeline interprets the source; this subsystem treats it as opaque bytes.
type Handler struct {
	Platform string
	Path     string
	Source   []byte
	ModTime  time.Time
}

// Loader reads a platform's parser from storage.
type Loader interface {
	Load(ctx context.Context, binding registry.ParserBinding) (Handler, error)
}

// FileLoader reads handlers from an fs.FS rooted at the platforms directory,
// the same filesystem the catalog scans.
type FileLoader struct {
	fsys fs.FS
}

var _ Loader = (*FileLoader)(nil)

// NewFileLoader creates a FileLoader over fsys.
func NewFileLoader(fsys fs.FS) *FileLoader {
	return &FileLoader{fsys: fsys}
}

// Load reads the binding's handler file.
func (l *FileLoader) Load(_ context.Context, binding registry.ParserBinding) (Handler, error) {
	info, err := fs.Stat(l.fsys, binding.Handler)
	if err != nil {
		return Handler{}, fmt.Errorf("stat handler: %w", err)
	}

	source, err := fs.ReadFile(l.fsys, binding.Handler)
	if err != nil {
		return Handler{}, fmt.Errorf("read handler: %w", err)
	}

	log.Debug(log.CatHandler, "handler loaded",
		"platform", binding.Platform, "path", binding.Handler, "bytes", len(source))
	return Handler{
		Platform: binding.Platform,
		Path:     binding.Handler,
		Source:   source,
		ModTime:  info.ModTime(),
	}, nil
}

// StoreOption configures the Store.
type StoreOption func(*Store)

// WithTTL sets how long a loaded handler stays cached.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithCache replaces the backing cache manager.
func WithCache(m cache.Manager[Handler]) StoreOption {
	return func(s *Store) {
		if m != nil {
			s.cache = m
		}
	}
}

// Store hands out parser handlers through a read-through cache. It is the
// eviction target for the registry's hot-reload operations: Evict drops one
// platform's cached handler so the next Get re-reads it from disk.
type Store struct {
	cache   cache.Manager[Handler]
	through *cache.ReadThrough[Handler, registry.ParserBinding]
	ttl     time.Duration
}

var _ registry.HandlerEvictor = (*Store)(nil)

// NewStore creates a Store in front of loader.
func NewStore(loader Loader, opts ...StoreOption) *Store {
	s := &Store{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewInMemory[Handler]("handlers", s.ttl, cache.DefaultCleanupInterval)
	}
	s.through = cache.NewReadThrough[Handler, registry.ParserBinding](s.cache, loader.Load, false)
	return s
}

// Get returns the platform's handler, loading it on first use and caching it
// for the store's TTL.
func (s *Store) Get(ctx context.Context, binding registry.ParserBinding) (Handler, error) {
	return s.through.Get(ctx, binding.Platform, binding, s.ttl)
}

// Evict drops one platform's cached handler. Evicting a platform that was
// never cached is a no-op.
func (s *Store) Evict(platform string) {
	if err := s.cache.Delete(context.Background(), platform); err != nil {
		log.Warn(log.CatHandler, "handler eviction failed", "platform", platform, "error", err.Error())
		return
	}
	log.Debug(log.CatHandler, "handler evicted", "platform", platform)
}

// Flush drops every cached handler. Called on full rebuilds, where any
// platform's parser may have changed on disk.
func (s *Store) Flush() {
	if err := s.cache.Flush(context.Background()); err != nil {
		log.Warn(log.CatHandler, "handler flush failed", "error", err.Error())
	}
}
