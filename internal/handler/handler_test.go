package handler

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annedurand/ezpaarse/internal/registry"
)

func sdBinding() registry.ParserBinding {
	return registry.ParserBinding{
		Platform:  "sd",
		LongName:  "ScienceDirect",
		Publisher: "Elsevier",
		Handler:   "sd/parser.js",
	}
}

// countingLoader wraps a Loader and counts Load calls.
type countingLoader struct {
	mu    sync.Mutex
	inner Loader
	err   error
	loads int
}

func (c *countingLoader) Load(ctx context.Context, binding registry.ParserBinding) (Handler, error) {
	c.mu.Lock()
	c.loads++
	err := c.err
	c.mu.Unlock()

	if err != nil {
		return Handler{}, err
	}
	return c.inner.Load(ctx, binding)
}

func (c *countingLoader) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

func platformsFS() fstest.MapFS {
	modTime := time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC)
	return fstest.MapFS{
		"sd/parser.js":    {Data: []byte("module.exports = { parseUrl: u => u };\n"), ModTime: modTime},
		"vidal/parser.js": {Data: []byte("module.exports = {};\n"), ModTime: modTime},
	}
}

func TestFileLoader_Load(t *testing.T) {
	loader := NewFileLoader(platformsFS())

	h, err := loader.Load(context.Background(), sdBinding())
	require.NoError(t, err)
	require.Equal(t, "sd", h.Platform)
	require.Equal(t, "sd/parser.js", h.Path)
	require.Contains(t, string(h.Source), "parseUrl")
	require.Equal(t, time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC), h.ModTime)
}

func TestFileLoader_LoadMissingHandler(t *testing.T) {
	loader := NewFileLoader(fstest.MapFS{})

	_, err := loader.Load(context.Background(), sdBinding())
	require.Error(t, err)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestStore_GetLoadsOnceAndCaches(t *testing.T) {
	loader := &countingLoader{inner: NewFileLoader(platformsFS())}
	store := NewStore(loader)

	first, err := store.Get(context.Background(), sdBinding())
	require.NoError(t, err)
	second, err := store.Get(context.Background(), sdBinding())
	require.NoError(t, err)

	require.Equal(t, 1, loader.count(), "second Get must be served from the cache")
	require.Equal(t, first.Source, second.Source)
}

func TestStore_EvictForcesReload(t *testing.T) {
	loader := &countingLoader{inner: NewFileLoader(platformsFS())}
	store := NewStore(loader)

	_, err := store.Get(context.Background(), sdBinding())
	require.NoError(t, err)

	store.Evict("sd")

	_, err = store.Get(context.Background(), sdBinding())
	require.NoError(t, err)
	require.Equal(t, 2, loader.count(), "eviction must force a fresh read")
}

func TestStore_EvictUnknownPlatformIsNoop(t *testing.T) {
	loader := &countingLoader{inner: NewFileLoader(platformsFS())}
	store := NewStore(loader)

	store.Evict("never-cached")

	_, err := store.Get(context.Background(), sdBinding())
	require.NoError(t, err)
	require.Equal(t, 1, loader.count())
}

func TestStore_FlushDropsEveryHandler(t *testing.T) {
	loader := &countingLoader{inner: NewFileLoader(platformsFS())}
	store := NewStore(loader)

	vidal := registry.ParserBinding{Platform: "vidal", Handler: "vidal/parser.js"}
	_, err := store.Get(context.Background(), sdBinding())
	require.NoError(t, err)
	_, err = store.Get(context.Background(), vidal)
	require.NoError(t, err)

	store.Flush()

	_, err = store.Get(context.Background(), sdBinding())
	require.NoError(t, err)
	_, err = store.Get(context.Background(), vidal)
	require.NoError(t, err)
	require.Equal(t, 4, loader.count())
}

func TestStore_LoaderErrorIsNotCached(t *testing.T) {
	loader := &countingLoader{
		inner: NewFileLoader(platformsFS()),
		err:   errors.New("disk unplugged"),
	}
	store := NewStore(loader)

	_, err := store.Get(context.Background(), sdBinding())
	require.ErrorContains(t, err, "disk unplugged")

	loader.mu.Lock()
	loader.err = nil
	loader.mu.Unlock()

	h, err := store.Get(context.Background(), sdBinding())
	require.NoError(t, err, "a failed load must not poison the cache")
	require.Equal(t, "sd", h.Platform)
	require.Equal(t, 2, loader.count())
}
