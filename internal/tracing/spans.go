package tracing

// Span names for the rebuild pipeline.
const (
	// SpanScan covers one full catalog scan, reconciliation included.
	SpanScan = "catalog.scan"
	// SpanPrefixPlatform prefixes per-platform registration spans; the
	// platform directory name is appended.
	SpanPrefixPlatform = "catalog.platform."
	// SpanReconcile covers the miss-ledger rewrite at the end of a scan.
	SpanReconcile = "ledger.reconcile"
	// SpanResolve covers one domain lookup issued through the resolver.
	SpanResolve = "registry.resolve"
	// SpanReload covers a scoped platform reload triggered by the watcher.
	SpanReload = "catalog.reload"
)

// Span attribute keys.
const (
	// Scan attributes
	AttrScanID    = "scan.id"
	AttrPlatforms = "scan.platforms"
	AttrDomains   = "scan.domains"

	// Platform attributes
	AttrPlatform        = "platform.name"
	AttrPlatformDomains = "platform.domains"
	AttrPKBFiles        = "platform.pkb_files"

	// Lookup attributes
	AttrDomain     = "domain.name"
	AttrResolved   = "domain.resolved"
	AttrCandidates = "domain.candidates"
)
