package resolver

import (
	"context"
	"encoding/json"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annedurand/ezpaarse/internal/catalog"
	"github.com/annedurand/ezpaarse/internal/pkb"
	"github.com/annedurand/ezpaarse/internal/pubsub"
)

// writePlatform scaffolds a platform directory with a literal-domain manifest.
func writePlatform(t *testing.T, root, name, longname string, domains ...string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755), "failed to create platform dir")
	manifest, err := json.Marshal(map[string]any{
		"name":     name,
		"longname": longname,
		"domains":  domains,
	})
	require.NoError(t, err, "failed to marshal manifest")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0644), "failed to write manifest")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parser.js"), []byte("#!/usr/bin/env node\n"), 0644), "failed to write parser")
}

func newService(t *testing.T, root string, opts ...Option) (*Service, string) {
	t.Helper()
	missPath := filepath.Join(t.TempDir(), "platforms-miss.csv")
	svc := New(root, missPath, opts...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, missPath
}

func waitChange(t *testing.T, events <-chan pubsub.Event[Change]) pubsub.Event[Change] {
	t.Helper()
	select {
	case e, ok := <-events:
		require.True(t, ok, "event channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return pubsub.Event[Change]{}
	}
}

// gateExtractor blocks every extraction until release is closed so tests can
// hold a scan in flight.
type gateExtractor struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gateExtractor) Extract(files []string, opts pkb.Options) iter.Seq2[pkb.Record, error] {
	return func(yield func(pkb.Record, error) bool) {
		g.calls.Add(1)
		select {
		case g.started <- struct{}{}:
		default:
		}
		<-g.release
		yield(pkb.Record{"domain": "gate.example.com"}, nil)
	}
}

func TestRebuild_IndexesPlatformsAndPublishes(t *testing.T) {
	root := t.TempDir()
	writePlatform(t, root, "sd", "ScienceDirect", "sd.example.com", "sd-mirror.example.com")
	writePlatform(t, root, "vidal", "Vidal", "vidal.example.com")

	svc, _ := newService(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := svc.Events(ctx)

	res, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Platforms)
	assert.Equal(t, 3, res.Domains)

	bindings, ok := svc.Resolve(ctx, "sd.example.com")
	require.True(t, ok)
	require.Len(t, bindings, 1)
	assert.Equal(t, "sd", bindings[0].Platform)
	assert.Equal(t, "ScienceDirect", bindings[0].LongName)

	e := waitChange(t, events)
	assert.Equal(t, pubsub.UpdatedEvent, e.Type)
	assert.Same(t, res, e.Payload.Result)
}

func TestRebuild_CoalescesConcurrentCallers(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sd")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkb"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"name": "sd", "pkb-domains": "domain"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parser.js"), []byte("js"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkb", "sd_2024-01-01.txt"), []byte("domain\nx.example.com\n"), 0644))

	gate := &gateExtractor{started: make(chan struct{}, 1), release: make(chan struct{})}
	svc, _ := newService(t, root, WithExtractor(gate))
	ctx := context.Background()

	var (
		mu      sync.Mutex
		results []*catalog.Result
		wg      sync.WaitGroup
	)
	rebuild := func() {
		defer wg.Done()
		res, err := svc.Rebuild(ctx)
		assert.NoError(t, err)
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	wg.Add(1)
	go rebuild()
	<-gate.started // the first scan is inside the extractor now

	wg.Add(2)
	go rebuild()
	go rebuild()
	time.Sleep(100 * time.Millisecond) // let both join the in-flight scan
	close(gate.release)
	wg.Wait()

	assert.EqualValues(t, 1, gate.calls.Load(), "scan should have run once")
	require.Len(t, results, 3)
	assert.Same(t, results[0], results[1])
	assert.Same(t, results[0], results[2])
}

func TestReloadPlatform_PicksUpManifestEdits(t *testing.T) {
	root := t.TempDir()
	writePlatform(t, root, "sd", "ScienceDirect", "sd.example.com")

	svc, _ := newService(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	writePlatform(t, root, "sd", "ScienceDirect on ClinicalKey", "sd.example.com", "ck.example.com")
	events := svc.Events(ctx)

	require.NoError(t, svc.ReloadPlatform(ctx, "sd"))

	binding, ok := svc.Registry().Platform("sd")
	require.True(t, ok)
	assert.Equal(t, "ScienceDirect on ClinicalKey", binding.LongName)

	_, ok = svc.Registry().ResolveQuiet("ck.example.com")
	assert.True(t, ok, "domain added by the edit should resolve")

	e := waitChange(t, events)
	assert.Equal(t, pubsub.UpdatedEvent, e.Type)
	assert.Equal(t, "sd", e.Payload.Platform)
}

func TestReloadPlatform_RemovedDirectoryDelists(t *testing.T) {
	root := t.TempDir()
	writePlatform(t, root, "sd", "ScienceDirect", "sd.example.com")

	svc, _ := newService(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "sd")))

	events := svc.Events(ctx)
	require.NoError(t, svc.ReloadPlatform(ctx, "sd"))

	_, ok := svc.Registry().ResolveQuiet("sd.example.com")
	assert.False(t, ok, "removed platform should not resolve")

	e := waitChange(t, events)
	assert.Equal(t, pubsub.DeletedEvent, e.Type)
	assert.Equal(t, "sd", e.Payload.Platform)
}

func TestReloadPlatform_DroppedDomainSourceDelists(t *testing.T) {
	root := t.TempDir()
	writePlatform(t, root, "sd", "ScienceDirect", "sd.example.com")

	svc, _ := newService(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	manifest := filepath.Join(root, "sd", "manifest.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"name": "sd"}`), 0644))

	events := svc.Events(ctx)
	require.NoError(t, svc.ReloadPlatform(ctx, "sd"))

	_, ok := svc.Registry().Platform("sd")
	assert.False(t, ok)

	e := waitChange(t, events)
	assert.Equal(t, pubsub.DeletedEvent, e.Type)
	assert.Equal(t, "sd", e.Payload.Platform)
}

func TestReloadPlatform_BrokenManifestIsAnError(t *testing.T) {
	root := t.TempDir()
	writePlatform(t, root, "sd", "ScienceDirect", "sd.example.com")

	svc, _ := newService(t, root)
	ctx := context.Background()

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	manifest := filepath.Join(root, "sd", "manifest.json")
	require.NoError(t, os.WriteFile(manifest, []byte("{not json"), 0644))

	err = svc.ReloadPlatform(ctx, "sd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reload platform sd")

	// The platform stays cleared until its manifest is fixed.
	_, ok := svc.Registry().Platform("sd")
	assert.False(t, ok)
}

func TestResolve_RecordsMissOnce(t *testing.T) {
	root := t.TempDir()
	writePlatform(t, root, "sd", "ScienceDirect", "sd.example.com")

	svc, missPath := newService(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	events := svc.Events(ctx)

	_, ok := svc.Resolve(ctx, "unknown.example.com")
	assert.False(t, ok)
	_, ok = svc.Resolve(ctx, "unknown.example.com")
	assert.False(t, ok)

	e := waitChange(t, events)
	assert.Equal(t, pubsub.CreatedEvent, e.Type)
	assert.Equal(t, "unknown.example.com", e.Payload.Domain)

	// The negative cache swallows the repeat, so exactly one event.
	select {
	case e := <-events:
		t.Fatalf("unexpected second event: %+v", e.Payload)
	case <-time.After(100 * time.Millisecond):
		// Expected
	}

	svc.Misses().Flush()
	data, err := os.ReadFile(missPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unknown.example.com")
}

func TestHandler_LoadsParserSource(t *testing.T) {
	root := t.TempDir()
	writePlatform(t, root, "sd", "ScienceDirect", "sd.example.com")

	svc, _ := newService(t, root)
	ctx := context.Background()

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	binding, ok := svc.Registry().Platform("sd")
	require.True(t, ok)

	h, err := svc.Handler(ctx, binding)
	require.NoError(t, err)
	assert.Equal(t, "sd", h.Platform)
	assert.Contains(t, string(h.Source), "#!/usr/bin/env node")
}

func TestWatch_ReloadsChangedPlatform(t *testing.T) {
	root := t.TempDir()
	writePlatform(t, root, "sd", "ScienceDirect", "sd.example.com")

	svc, _ := newService(t, root, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	events, err := svc.Watch(ctx)
	require.NoError(t, err)

	// A second watch is refused while the first is running
	_, err = svc.Watch(ctx)
	require.Error(t, err)

	writePlatform(t, root, "sd", "ScienceDirect v2", "sd.example.com")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Payload.Platform != "sd" {
				continue
			}
			assert.Equal(t, pubsub.UpdatedEvent, e.Type)
			binding, ok := svc.Registry().Platform("sd")
			require.True(t, ok)
			assert.Equal(t, "ScienceDirect v2", binding.LongName)
			return
		case <-deadline:
			t.Fatal("timed out waiting for reload event")
		}
	}
}

func TestClose_FlushesPendingMisses(t *testing.T) {
	root := t.TempDir()
	writePlatform(t, root, "sd", "ScienceDirect", "sd.example.com")

	svc, missPath := newService(t, root)
	ctx := context.Background()

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	_, ok := svc.Resolve(ctx, "straggler.example.com")
	assert.False(t, ok)

	require.NoError(t, svc.Close())

	data, err := os.ReadFile(missPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "straggler.example.com")
}
