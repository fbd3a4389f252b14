// Package catalog builds the domain-resolution index from a platforms
// directory: one subdirectory per platform, each holding a manifest.json, a
// parser handler file and optionally a pkb/ folder of dated knowledge-base
// extracts. Platforms are scanned strictly one after another; a broken
// platform aborts only its own registration, never the scan.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/annedurand/ezpaarse/internal/ledger"
	"github.com/annedurand/ezpaarse/internal/log"
	"github.com/annedurand/ezpaarse/internal/pkb"
	"github.com/annedurand/ezpaarse/internal/registry"
	"github.com/annedurand/ezpaarse/internal/tracing"
)

// Platform directory layout.
const (
	// ManifestName is the per-platform descriptor file.
	ManifestName = "manifest.json"
	// DefaultHandlerFile is the parser handler expected in each platform
	// directory unless overridden with WithHandlerFile.
	DefaultHandlerFile = "parser.js"
	// DefaultSkeleton is the template directory shipped alongside real
	// platforms; it is excluded from scans.
	DefaultSkeleton = "js-parser-skeleton"

	pkbDir = "pkb"
)

// ErrNoDomainSource marks a manifest that declares neither literal domains
// nor a pkb-domains field. Init records the platform as skipped rather than
// failed.
var ErrNoDomainSource = errors.New("manifest declares no domain source")

// Manifest mirrors a platform's manifest.json.
type Manifest struct {
	Name          string   `json:"name"`
	LongName      string   `json:"longname"`
	PublisherName string   `json:"publisher_name"`
	Domains       []string `json:"domains"`
	PKBDomains    string   `json:"pkb-domains"`
}

// ScanID uniquely identifies one catalog scan, for log and trace correlation.
type ScanID string

// NewScanID generates a new unique ScanID using UUID v4.
func NewScanID() ScanID {
	return ScanID(uuid.New().String())
}

// String returns the string representation of the ScanID.
func (id ScanID) String() string {
	return string(id)
}

// Report describes one platform whose registration was aborted.
type Report struct {
	Platform string
	Err      error
}

// Result summarizes one scan: what registered, what was skipped, what failed.
type Result struct {
	ScanID       ScanID
	Platforms    int      // platforms registered, including partially
	Domains      int      // distinct hostnames in the registry after the scan
	PKBFiles     int      // dated knowledge-base files read
	Skipped      []string // directories whose manifest names no domain source
	Failures     []Report
	ReconcileErr error // ledger reconciliation failure, if any
	Duration     time.Duration
}

// PlatformStats counts one platform's contribution to the registry.
type PlatformStats struct {
	Domains  int // hostnames the platform owns after registration
	PKBFiles int // dated knowledge-base files read for it
}

// Reconciler rewrites the miss ledger against the freshly built index.
// Implemented by *ledger.Ledger.
type Reconciler interface {
	Reconcile(cache ledger.MissCache) error
}

// Option configures the Builder.
type Option func(*Builder)

// WithSkeleton names the template directory excluded from scans.
func WithSkeleton(name string) Option {
	return func(b *Builder) {
		b.skeleton = name
	}
}

// WithHandlerFile sets the parser handler filename required in each platform
// directory.
func WithHandlerFile(name string) Option {
	return func(b *Builder) {
		b.handlerFile = name
	}
}

// WithExtractor replaces the knowledge-base extractor. A nil extractor keeps
// the default file extractor.
func WithExtractor(ex pkb.Extractor) Option {
	return func(b *Builder) {
		if ex != nil {
			b.extractor = ex
		}
	}
}

// WithReconciler sets the ledger to reconcile after every full scan. Without
// one the reconciliation phase is skipped.
func WithReconciler(rec Reconciler) Option {
	return func(b *Builder) {
		b.recon = rec
	}
}

// WithTracer sets the tracer for span instrumentation. A nil tracer keeps the
// default noop tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Builder) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// Builder populates a registry from a platforms directory. Construct with
// New. Scans are strictly sequential; callers must serialize rebuilds of the
// same registry.
type Builder struct {
	fsys      fs.FS
	reg       *registry.Registry
	extractor pkb.Extractor
	recon     Reconciler
	tracer    trace.Tracer

	skeleton    string
	handlerFile string
}

// New creates a Builder reading platform directories from fsys, typically
// os.DirFS of the platforms root.
func New(fsys fs.FS, reg *registry.Registry, opts ...Option) *Builder {
	b := &Builder{
		fsys:        fsys,
		reg:         reg,
		extractor:   pkb.NewFileExtractor(fsys),
		tracer:      noop.NewTracerProvider().Tracer("noop"),
		skeleton:    DefaultSkeleton,
		handlerFile: DefaultHandlerFile,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init rebuilds the registry from scratch: resets it, registers every
// platform directory in listing order, then reconciles the miss ledger
// against the fresh index. Only a failure to list the root directory is
// fatal. Per-platform errors and reconciliation failures are collected on the
// Result.
func (b *Builder) Init(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{ScanID: NewScanID()}

	ctx, span := b.tracer.Start(ctx, tracing.SpanScan,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrScanID, res.ScanID.String()))

	log.Info(log.CatCatalog, "scan started", "scan", res.ScanID)
	b.reg.Reset()

	entries, err := fs.ReadDir(b.fsys, ".")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list platforms root: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || name == b.skeleton {
			continue
		}

		stats, err := b.AddPlatform(ctx, name)
		res.PKBFiles += stats.PKBFiles
		switch {
		case errors.Is(err, ErrNoDomainSource):
			res.Skipped = append(res.Skipped, name)
			log.Warn(log.CatCatalog, "platform skipped", "platform", name)
		case err != nil:
			res.Failures = append(res.Failures, Report{Platform: name, Err: err})
			log.ErrorErr(log.CatCatalog, "platform failed", err, "platform", name)
		default:
			res.Platforms++
		}
	}

	if b.recon != nil {
		if err := b.reconcile(ctx); err != nil {
			res.ReconcileErr = err
			log.ErrorErr(log.CatCatalog, "ledger reconciliation failed", err)
		}
	}

	res.Domains, _ = b.reg.SizeOf(registry.KindDomains)
	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int(tracing.AttrPlatforms, res.Platforms),
		attribute.Int(tracing.AttrDomains, res.Domains),
	)
	span.SetStatus(codes.Ok, "")

	log.Info(log.CatCatalog, "scan finished",
		"scan", res.ScanID,
		"platforms", res.Platforms,
		"domains", res.Domains,
		"skipped", len(res.Skipped),
		"failed", len(res.Failures),
		"duration", res.Duration.String())
	return res, nil
}

// AddPlatform registers one platform directory: its manifest's literal
// domains plus, when the manifest names a pkb-domains field, every non-empty
// value of that field across the platform's dated knowledge-base files. The
// registry keeps whatever was registered before an error; callers wanting a
// clean slate clear the platform first.
func (b *Builder) AddPlatform(ctx context.Context, dir string) (PlatformStats, error) {
	var stats PlatformStats

	_, span := b.tracer.Start(ctx, tracing.SpanPrefixPlatform+dir,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrPlatform, dir))

	err := b.addPlatform(dir, &stats)
	span.SetAttributes(
		attribute.Int(tracing.AttrPlatformDomains, stats.Domains),
		attribute.Int(tracing.AttrPKBFiles, stats.PKBFiles),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return stats, err
}

func (b *Builder) addPlatform(dir string, stats *PlatformStats) error {
	raw, err := fs.ReadFile(b.fsys, path.Join(dir, ManifestName))
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if m.Name == "" {
		return errors.New("manifest has no name")
	}
	if len(m.Domains) == 0 && m.PKBDomains == "" {
		return ErrNoDomainSource
	}

	handler := path.Join(dir, b.handlerFile)
	if _, err := fs.Stat(b.fsys, handler); err != nil {
		return fmt.Errorf("handler %s: %w", b.handlerFile, err)
	}

	binding := registry.ParserBinding{
		Platform:  m.Name,
		LongName:  m.LongName,
		Publisher: m.PublisherName,
		Handler:   handler,
	}
	defer func() {
		if entry, ok := b.reg.PlatformDomains(m.Name); ok {
			stats.Domains = len(entry.Domains)
		}
	}()

	for _, domain := range m.Domains {
		b.reg.Add(domain, binding)
	}

	if m.PKBDomains != "" {
		if err := b.addKnowledgeBase(dir, m.PKBDomains, binding, stats); err != nil {
			return err
		}
	}

	log.Info(log.CatCatalog, "platform registered",
		"platform", m.Name, "pkb_files", stats.PKBFiles)
	return nil
}

// addKnowledgeBase derives extra domains for binding from the platform's
// dated knowledge-base files. No matching files is a normal outcome; a
// missing or unreadable pkb directory is not.
func (b *Builder) addKnowledgeBase(dir, field string, binding registry.ParserBinding, stats *PlatformStats) error {
	files, err := pkb.DatedFiles(b.fsys, path.Join(dir, pkbDir))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Debug(log.CatCatalog, "no dated knowledge-base files", "platform", binding.Platform)
		return nil
	}
	stats.PKBFiles = len(files)

	opts := pkb.Options{Silent: true, Fields: []string{field}, Delimiter: '\t'}
	for rec, err := range b.extractor.Extract(files, opts) {
		if err != nil {
			return err
		}
		if domain := rec[field]; domain != "" {
			b.reg.Add(domain, binding)
		}
	}
	return nil
}

func (b *Builder) reconcile(ctx context.Context) error {
	_, span := b.tracer.Start(ctx, tracing.SpanReconcile,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	if err := b.recon.Reconcile(b.reg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
