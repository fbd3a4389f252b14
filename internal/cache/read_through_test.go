package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeManager records calls so tests can assert on cache interaction without
// real expiry timers.
type fakeManager struct {
	values   map[string]string
	sets     int
	refreshs int
}

func newFakeManager() *fakeManager {
	return &fakeManager{values: make(map[string]string)}
}

func (f *fakeManager) Get(ctx context.Context, key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeManager) GetWithRefresh(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	f.refreshs++
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeManager) Set(ctx context.Context, key string, value string, ttl time.Duration) {
	f.sets++
	f.values[key] = value
}

func (f *fakeManager) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func (f *fakeManager) Flush(ctx context.Context) error {
	f.values = make(map[string]string)
	return nil
}

func TestReadThrough_Get_WithCacheDisabled(t *testing.T) {
	mgr := newFakeManager()

	rt := NewReadThrough[string, string](
		mgr,
		func(ctx context.Context, platform string) (string, error) {
			return "source:" + platform, nil
		},
		true,
	)

	got, err := rt.Get(context.Background(), "sd", "sd", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "source:sd", got)
	require.Zero(t, mgr.sets, "disabled cache must never be written")
}

func TestReadThrough_Get_WithValueInCache(t *testing.T) {
	mgr := newFakeManager()
	mgr.values["sd"] = "cached-source"

	loaderCalls := 0
	rt := NewReadThrough[string, string](
		mgr,
		func(ctx context.Context, platform string) (string, error) {
			loaderCalls++
			return "source:" + platform, nil
		},
		false,
	)

	got, err := rt.Get(context.Background(), "sd", "sd", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "cached-source", got)
	require.Zero(t, loaderCalls, "cache hit must not invoke the loader")
}

func TestReadThrough_Get_EmptyCache(t *testing.T) {
	mgr := newFakeManager()

	rt := NewReadThrough[string, string](
		mgr,
		func(ctx context.Context, platform string) (string, error) {
			return "source:" + platform, nil
		},
		false,
	)

	got, err := rt.Get(context.Background(), "sd", "sd", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "source:sd", got)
	require.Equal(t, 1, mgr.sets)
	require.Equal(t, "source:sd", mgr.values["sd"])
}

func TestReadThrough_Get_LoaderError(t *testing.T) {
	mgr := newFakeManager()

	rt := NewReadThrough[string, string](
		mgr,
		func(ctx context.Context, platform string) (string, error) {
			return "", errors.New("failed to read handler")
		},
		false,
	)

	_, err := rt.Get(context.Background(), "sd", "sd", time.Minute)
	require.Error(t, err)
	require.Zero(t, mgr.sets, "errors must not be cached")
}

func TestReadThrough_GetWithRefresh_WithValueInCache(t *testing.T) {
	mgr := newFakeManager()
	mgr.values["sd"] = "cached-source"

	rt := NewReadThrough[string, string](
		mgr,
		func(ctx context.Context, platform string) (string, error) {
			return "source:" + platform, nil
		},
		false,
	)

	got, err := rt.GetWithRefresh(context.Background(), "sd", "sd", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "cached-source", got)
	require.Equal(t, 1, mgr.refreshs)
}

func TestReadThrough_GetWithRefresh_EmptyCache(t *testing.T) {
	mgr := newFakeManager()

	rt := NewReadThrough[string, string](
		mgr,
		func(ctx context.Context, platform string) (string, error) {
			return "source:" + platform, nil
		},
		false,
	)

	got, err := rt.GetWithRefresh(context.Background(), "sd", "sd", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "source:sd", got)
	require.Equal(t, 1, mgr.sets)
}

func TestReadThrough_GetWithRefresh_LoaderError(t *testing.T) {
	mgr := newFakeManager()

	rt := NewReadThrough[string, string](
		mgr,
		func(ctx context.Context, platform string) (string, error) {
			return "", errors.New("failed to read handler")
		},
		false,
	)

	_, err := rt.GetWithRefresh(context.Background(), "sd", "sd", time.Minute)
	require.Error(t, err)
	require.Zero(t, mgr.sets)
}
