// Package resolver ties the domain registry, catalog builder, miss ledger,
// handler store and filesystem watcher into one service. Commands construct a
// Service and talk to it; nothing else wires the pieces together.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/annedurand/ezpaarse/internal/catalog"
	"github.com/annedurand/ezpaarse/internal/handler"
	"github.com/annedurand/ezpaarse/internal/ledger"
	"github.com/annedurand/ezpaarse/internal/log"
	"github.com/annedurand/ezpaarse/internal/pkb"
	"github.com/annedurand/ezpaarse/internal/pubsub"
	"github.com/annedurand/ezpaarse/internal/registry"
	"github.com/annedurand/ezpaarse/internal/tracing"
	"github.com/annedurand/ezpaarse/internal/watcher"
)

// Change is the payload published on the service broker. Full rebuilds carry
// Result, platform reloads carry Platform, recorded misses carry Domain; the
// event type distinguishes reloads (updated) from delistings (deleted).
type Change struct {
	Platform string
	Domain   string
	Result   *catalog.Result
}

// Service is the resolution facade over one platforms directory: the domain
// index built from it, the ledger recording unresolved lookups and the store
// serving parser sources.
type Service struct {
	root        string
	fsys        fs.FS
	skeleton    string
	handlerFile string
	debounce    time.Duration
	handlerTTL  time.Duration
	ledgerQueue int
	extractor   pkb.Extractor
	tracer      trace.Tracer

	reg      *registry.Registry
	builder  *catalog.Builder
	misses   *ledger.Ledger
	handlers *handler.Store
	broker   *pubsub.Broker[Change]

	rebuilds singleflight.Group
	mu       sync.Mutex // serializes rebuilds against platform reloads

	watchMu sync.Mutex
	watcher *watcher.Watcher
}

// Option configures the service.
type Option func(*Service)

// WithSkeleton overrides the template directory name ignored during scans.
func WithSkeleton(name string) Option {
	return func(s *Service) { s.skeleton = name }
}

// WithHandlerFile overrides the parser file name looked up in each platform.
func WithHandlerFile(name string) Option {
	return func(s *Service) { s.handlerFile = name }
}

// WithTracer sets the tracer used for scan, reload and resolve spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithDebounce sets the watcher's per-platform quiet window.
func WithDebounce(d time.Duration) Option {
	return func(s *Service) { s.debounce = d }
}

// WithHandlerTTL sets how long loaded handlers stay cached.
func WithHandlerTTL(d time.Duration) Option {
	return func(s *Service) { s.handlerTTL = d }
}

// WithLedgerQueueSize sets the miss ledger's write queue length.
func WithLedgerQueueSize(n int) Option {
	return func(s *Service) { s.ledgerQueue = n }
}

// WithExtractor overrides the knowledge-base extractor.
func WithExtractor(e pkb.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// New wires a service over the platforms directory rooted at platformsDir.
// Unresolved domains are appended to the ledger at ledgerPath.
func New(platformsDir, ledgerPath string, opts ...Option) *Service {
	s := &Service{
		root:        platformsDir,
		fsys:        os.DirFS(platformsDir),
		skeleton:    catalog.DefaultSkeleton,
		handlerFile: catalog.DefaultHandlerFile,
		debounce:    time.Second,
		handlerTTL:  handler.DefaultTTL,
		tracer:      noop.NewTracerProvider().Tracer("noop"),
		broker:      pubsub.NewBroker[Change](),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.ledgerQueue > 0 {
		s.misses = ledger.NewWithQueueSize(ledgerPath, s.ledgerQueue)
	} else {
		s.misses = ledger.New(ledgerPath)
	}
	s.handlers = handler.NewStore(handler.NewFileLoader(s.fsys), handler.WithTTL(s.handlerTTL))
	s.reg = registry.New(&missTap{misses: s.misses, broker: s.broker}, s.handlers)

	copts := []catalog.Option{
		catalog.WithSkeleton(s.skeleton),
		catalog.WithHandlerFile(s.handlerFile),
		catalog.WithReconciler(s.misses),
		catalog.WithTracer(s.tracer),
	}
	if s.extractor != nil {
		copts = append(copts, catalog.WithExtractor(s.extractor))
	}
	s.builder = catalog.New(s.fsys, s.reg, copts...)

	return s
}

// Rebuild rescans the platforms directory from scratch. Concurrent callers
// share one scan and receive the same result. On success every cached handler
// is dropped and the result is announced on the broker.
func (s *Service) Rebuild(ctx context.Context) (*catalog.Result, error) {
	v, err, _ := s.rebuilds.Do("rebuild", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		res, err := s.builder.Init(ctx)
		if err != nil {
			return nil, err
		}
		s.handlers.Flush()
		s.broker.Publish(pubsub.UpdatedEvent, Change{Result: res})
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*catalog.Result), nil
}

// ReloadPlatform drops one platform from the index and re-registers it from
// disk. A platform whose directory is gone, or whose manifest no longer
// declares a domain source, stays delisted and a deletion event is published.
func (s *Service) ReloadPlatform(ctx context.Context, name string) error {
	ctx, span := s.tracer.Start(ctx, tracing.SpanReload)
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrPlatform, name))

	if err := s.reloadPlatform(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) reloadPlatform(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reg.ClearPlatform(name)

	_, err := s.builder.AddPlatform(ctx, name)
	switch {
	case err == nil:
		log.Info(log.CatResolver, "platform reloaded", "platform", name)
		s.broker.Publish(pubsub.UpdatedEvent, Change{Platform: name})
		return nil
	case errors.Is(err, catalog.ErrNoDomainSource):
		log.Info(log.CatResolver, "platform delisted", "platform", name, "reason", "no domain source")
		s.broker.Publish(pubsub.DeletedEvent, Change{Platform: name})
		return nil
	default:
		if _, statErr := fs.Stat(s.fsys, name); errors.Is(statErr, fs.ErrNotExist) {
			log.Info(log.CatResolver, "platform delisted", "platform", name, "reason", "directory removed")
			s.broker.Publish(pubsub.DeletedEvent, Change{Platform: name})
			return nil
		}
		return fmt.Errorf("reload platform %s: %w", name, err)
	}
}

// Resolve returns the parser candidates for domain in registration order. The
// first lookup of an unknown domain records it in the miss ledger.
func (s *Service) Resolve(ctx context.Context, domain string) ([]registry.ParserBinding, bool) {
	_, span := s.tracer.Start(ctx, tracing.SpanResolve)
	defer span.End()

	bindings, ok := s.reg.Resolve(domain)
	span.SetAttributes(
		attribute.String(tracing.AttrDomain, domain),
		attribute.Bool(tracing.AttrResolved, ok),
		attribute.Int(tracing.AttrCandidates, len(bindings)),
	)
	return bindings, ok
}

// Handler returns the parser handler for a binding, loading and caching it on
// first use.
func (s *Service) Handler(ctx context.Context, binding registry.ParserBinding) (handler.Handler, error) {
	return s.handlers.Get(ctx, binding)
}

// Registry exposes the underlying domain index for read-side commands.
func (s *Service) Registry() *registry.Registry { return s.reg }

// Misses exposes the ledger recording unresolved domains.
func (s *Service) Misses() *ledger.Ledger { return s.misses }

// Events returns change notifications published after this call. The
// subscription is released when ctx is cancelled.
func (s *Service) Events(ctx context.Context) <-chan pubsub.Event[Change] {
	return s.broker.Subscribe(ctx)
}

// Watch starts the filesystem watcher and reloads each platform as its files
// change, until ctx is cancelled. Returns a broker subscription carrying the
// resulting change events. Only one watch may run at a time.
func (s *Service) Watch(ctx context.Context) (<-chan pubsub.Event[Change], error) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil, errors.New("watch already running")
	}

	w, err := watcher.New(watcher.Config{
		Root:     s.root,
		Skeleton: s.skeleton,
		Debounce: s.debounce,
	})
	if err != nil {
		return nil, err
	}
	events, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return nil, err
	}
	s.watcher = w

	go s.watchLoop(ctx, events)

	return s.broker.Subscribe(ctx), nil
}

func (s *Service) watchLoop(ctx context.Context, events <-chan watcher.Event) {
	defer s.stopWatcher()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := s.ReloadPlatform(ctx, e.Platform); err != nil {
				log.ErrorErr(log.CatResolver, "platform reload failed", err, "platform", e.Platform)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) stopWatcher() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		_ = s.watcher.Stop()
		s.watcher = nil
	}
}

// Close stops any running watch, closes the broker and flushes the ledger's
// pending writes.
func (s *Service) Close() error {
	s.stopWatcher()
	s.broker.Close()
	return s.misses.Close()
}

// missTap forwards confirmed misses to the ledger and announces them on the
// broker.
type missTap struct {
	misses *ledger.Ledger
	broker *pubsub.Broker[Change]
}

var _ registry.MissRecorder = (*missTap)(nil)

func (m *missTap) Record(domain string) {
	m.misses.Record(domain)
	m.broker.Publish(pubsub.CreatedEvent, Change{Domain: domain})
}
