// Package registry maintains the in-memory index from hostname to the parser
// bindings claiming it, plus the reverse index from platform to the domains it
// owns. A hostname can be claimed by more than one platform; candidate
// selection among them is deferred to the enrichment pipeline.
package registry

import (
	"sync"

	"github.com/annedurand/ezpaarse/internal/log"
)

// Index kinds accepted by SizeOf.
const (
	KindDomains   = "domains"
	KindPlatforms = "platforms"
)

// ParserBinding ties a domain to the platform whose handler interprets its
// log lines. Immutable once created; shared by every domain the platform
// claims.
type ParserBinding struct {
	Platform  string // short name, the primary key
	LongName  string
	Publisher string
	Handler   string // handler file path, loaded on demand by the handler store
}

// PlatformEntry is the reverse-index entry for one platform: its canonical
// binding and the set of domains it owns. Used for cascade removal and
// handler-cache eviction.
type PlatformEntry struct {
	Binding ParserBinding
	Domains map[string]struct{}
}

// MissRecorder receives hostnames that failed to resolve. Implemented by the
// ledger. Record must not block.
type MissRecorder interface {
	Record(domain string)
}

// HandlerEvictor drops a cached parser handler so the next load re-reads it
// from disk. Implemented by the handler store. Evicting a handler that was
// never cached is a no-op.
type HandlerEvictor interface {
	Evict(platform string)
}

// Registry is the domain-resolution index. All methods are safe for
// concurrent use. Construct with New; the zero value is not usable.
type Registry struct {
	mu sync.RWMutex
	// domains maps hostname to its candidates in registration order. A key
	// present with a nil slice is a confirmed miss (negative cache); an
	// absent key has never been seen.
	domains   map[string][]ParserBinding
	platforms map[string]*PlatformEntry

	misses   MissRecorder
	handlers HandlerEvictor
}

// New creates an empty registry. Either collaborator may be nil: a nil
// MissRecorder drops miss notifications, a nil HandlerEvictor makes cache
// eviction a no-op.
func New(misses MissRecorder, handlers HandlerEvictor) *Registry {
	return &Registry{
		domains:   make(map[string][]ParserBinding),
		platforms: make(map[string]*PlatformEntry),
		misses:    misses,
		handlers:  handlers,
	}
}

// Add registers domain under the platform named by binding. The first Add for
// a platform records its canonical binding; later Adds reuse it. Re-adding a
// (domain, platform) pair the platform already owns is a no-op, and another
// platform's claim on the same domain is never displaced: the new binding is
// appended after it.
func (r *Registry) Add(domain string, binding ParserBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.platforms[binding.Platform]
	if !ok {
		entry = &PlatformEntry{
			Binding: binding,
			Domains: make(map[string]struct{}),
		}
		r.platforms[binding.Platform] = entry
	}

	if _, owned := entry.Domains[domain]; owned {
		return
	}

	entry.Domains[domain] = struct{}{}
	r.domains[domain] = append(r.domains[domain], entry.Binding)
}

// Resolve returns the candidates registered for domain, in registration
// order. The first-ever lookup of an unknown domain marks it as a confirmed
// miss and hands it to the miss recorder without blocking; every later lookup
// returns false without recording again.
func (r *Registry) Resolve(domain string) ([]ParserBinding, bool) {
	return r.resolve(domain, true)
}

// ResolveQuiet is Resolve without the ledger notification. Unknown domains
// are still negative-cached.
func (r *Registry) ResolveQuiet(domain string) ([]ParserBinding, bool) {
	return r.resolve(domain, false)
}

func (r *Registry) resolve(domain string, record bool) ([]ParserBinding, bool) {
	r.mu.RLock()
	bindings, seen := r.domains[domain]
	r.mu.RUnlock()

	if !seen {
		r.mu.Lock()
		// Another caller may have registered or marked it in between.
		bindings, seen = r.domains[domain]
		if !seen {
			r.domains[domain] = nil
		}
		r.mu.Unlock()

		if !seen {
			log.Debug(log.CatRegistry, "domain not resolved", "domain", domain, "recorded", record)
			if record && r.misses != nil {
				r.misses.Record(domain)
			}
			return nil, false
		}
	}

	if bindings == nil {
		return nil, false
	}
	return bindings, true
}

// Platform returns the canonical binding registered for a platform.
func (r *Registry) Platform(name string) (ParserBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.platforms[name]
	if !ok {
		return ParserBinding{}, false
	}
	return entry.Binding, true
}

// Platforms returns the names of every registered platform, in no particular
// order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	return names
}

// Domains returns a snapshot of the whole domain index. Slice values are
// shared with the registry and must not be mutated; a nil slice marks a
// negative-cache entry.
func (r *Registry) Domains() map[string][]ParserBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string][]ParserBinding, len(r.domains))
	for domain, bindings := range r.domains {
		snapshot[domain] = bindings
	}
	return snapshot
}

// PlatformDomains returns a snapshot of the reverse-index entry for a
// platform: its binding and owned-domain set.
func (r *Registry) PlatformDomains(name string) (PlatformEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.platforms[name]
	if !ok {
		return PlatformEntry{}, false
	}

	owned := make(map[string]struct{}, len(entry.Domains))
	for domain := range entry.Domains {
		owned[domain] = struct{}{}
	}
	return PlatformEntry{Binding: entry.Binding, Domains: owned}, true
}

// ClearPlatform removes a platform and withdraws its candidacy from every
// domain it owns. A domain left with no candidates is forgotten entirely;
// domains co-owned by other platforms keep their remaining candidates in
// order. The platform's cached handler is evicted. No-op for unknown
// platforms.
func (r *Registry) ClearPlatform(name string) {
	r.mu.Lock()
	entry, ok := r.platforms[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.platforms, name)

	for domain := range entry.Domains {
		candidates := r.domains[domain]
		remaining := make([]ParserBinding, 0, len(candidates))
		for _, c := range candidates {
			if c.Platform != name {
				remaining = append(remaining, c)
			}
		}
		if len(remaining) == 0 {
			delete(r.domains, domain)
		} else {
			r.domains[domain] = remaining
		}
	}
	cleared := len(entry.Domains)
	r.mu.Unlock()

	if r.handlers != nil {
		r.handlers.Evict(name)
	}
	log.Info(log.CatRegistry, "platform cleared", "platform", name, "domains", cleared)
}

// ClearParserCache evicts every registered platform's handler so the next
// load re-reads it from disk. Platforms whose handler was never cached are
// skipped silently.
func (r *Registry) ClearParserCache() {
	if r.handlers == nil {
		return
	}

	r.mu.RLock()
	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	r.mu.RUnlock()

	for _, name := range names {
		r.handlers.Evict(name)
	}
	log.Debug(log.CatRegistry, "parser cache cleared", "platforms", len(names))
}

// SizeOf reports the cardinality of one of the registry's indexes,
// KindDomains or KindPlatforms. Any other kind returns false rather than
// failing.
func (r *Registry) SizeOf(kind string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch kind {
	case KindDomains:
		return len(r.domains), true
	case KindPlatforms:
		return len(r.platforms), true
	default:
		return 0, false
	}
}

// AddMiss marks domain as a confirmed miss unless it is already known,
// resolved or otherwise. Reports whether the placeholder is new. Ledger
// reconciliation uses this to decide which recorded hostnames are still
// relevant.
func (r *Registry) AddMiss(domain string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.domains[domain]; seen {
		return false
	}
	r.domains[domain] = nil
	return true
}

// Reset discards both indexes wholesale. Called at the start of a full
// rebuild.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.domains = make(map[string][]ParserBinding)
	r.platforms = make(map[string]*PlatformEntry)
}
