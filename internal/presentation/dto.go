package presentation

import (
	"sort"

	"github.com/annedurand/ezpaarse/internal/catalog"
	"github.com/annedurand/ezpaarse/internal/registry"
)

// BindingDTO represents one parser binding for presentation
type BindingDTO struct {
	Platform  string `json:"platform" yaml:"platform"`
	LongName  string `json:"longname,omitempty" yaml:"longname,omitempty"`
	Publisher string `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Handler   string `json:"handler" yaml:"handler"`
}

// ResolutionDTO is the outcome of one domain lookup
type ResolutionDTO struct {
	Domain     string       `json:"domain" yaml:"domain"`
	Resolved   bool         `json:"resolved" yaml:"resolved"`
	Candidates []BindingDTO `json:"candidates,omitempty" yaml:"candidates,omitempty"`
}

// PlatformDTO is the summary row for one registered platform
type PlatformDTO struct {
	Name      string `json:"name" yaml:"name"`
	LongName  string `json:"longname,omitempty" yaml:"longname,omitempty"`
	Publisher string `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Handler   string `json:"handler" yaml:"handler"`
	Domains   int    `json:"domains" yaml:"domains"`
}

// PlatformDetailDTO is one platform with its owned domains spelled out
type PlatformDetailDTO struct {
	Name      string   `json:"name" yaml:"name"`
	LongName  string   `json:"longname,omitempty" yaml:"longname,omitempty"`
	Publisher string   `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Handler   string   `json:"handler" yaml:"handler"`
	Domains   []string `json:"domains" yaml:"domains"`
}

// DomainEntryDTO maps one hostname onto its candidate platforms
type DomainEntryDTO struct {
	Domain    string   `json:"domain" yaml:"domain"`
	Platforms []string `json:"platforms" yaml:"platforms"`
}

// FailureDTO reports one platform that could not be registered
type FailureDTO struct {
	Platform string `json:"platform" yaml:"platform"`
	Error    string `json:"error" yaml:"error"`
}

// ScanDTO summarizes one catalog rebuild
type ScanDTO struct {
	ScanID         string       `json:"scan_id" yaml:"scan_id"`
	Platforms      int          `json:"platforms" yaml:"platforms"`
	Domains        int          `json:"domains" yaml:"domains"`
	PKBFiles       int          `json:"pkb_files" yaml:"pkb_files"`
	Skipped        []string     `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Failures       []FailureDTO `json:"failures,omitempty" yaml:"failures,omitempty"`
	ReconcileError string       `json:"reconcile_error,omitempty" yaml:"reconcile_error,omitempty"`
	DurationMS     int64        `json:"duration_ms" yaml:"duration_ms"`
}

// MissesDTO is the ledger contents plus writer health counters
type MissesDTO struct {
	Path        string   `json:"path" yaml:"path"`
	Count       int      `json:"count" yaml:"count"`
	Domains     []string `json:"domains" yaml:"domains"`
	Dropped     int64    `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	WriteErrors int64    `json:"write_errors,omitempty" yaml:"write_errors,omitempty"`
}

// FromBinding converts a registry binding to a DTO
func FromBinding(b registry.ParserBinding) BindingDTO {
	return BindingDTO{
		Platform:  b.Platform,
		LongName:  b.LongName,
		Publisher: b.Publisher,
		Handler:   b.Handler,
	}
}

// FromResolution converts a lookup outcome to a DTO
func FromResolution(domain string, bindings []registry.ParserBinding, resolved bool) ResolutionDTO {
	candidates := make([]BindingDTO, len(bindings))
	for i, b := range bindings {
		candidates[i] = FromBinding(b)
	}
	return ResolutionDTO{
		Domain:     domain,
		Resolved:   resolved,
		Candidates: candidates,
	}
}

// FromPlatformSummary builds the list row for one platform
func FromPlatformSummary(entry registry.PlatformEntry) PlatformDTO {
	return PlatformDTO{
		Name:      entry.Binding.Platform,
		LongName:  entry.Binding.LongName,
		Publisher: entry.Binding.Publisher,
		Handler:   entry.Binding.Handler,
		Domains:   len(entry.Domains),
	}
}

// FromPlatformDetail includes the platform's owned domains, sorted
func FromPlatformDetail(entry registry.PlatformEntry) PlatformDetailDTO {
	domains := make([]string, 0, len(entry.Domains))
	for domain := range entry.Domains {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	return PlatformDetailDTO{
		Name:      entry.Binding.Platform,
		LongName:  entry.Binding.LongName,
		Publisher: entry.Binding.Publisher,
		Handler:   entry.Binding.Handler,
		Domains:   domains,
	}
}

// FromDomainIndex converts the registry's domain snapshot to sorted entries.
// Negative-cache markers (nil candidate slices) are left out.
func FromDomainIndex(index map[string][]registry.ParserBinding) []DomainEntryDTO {
	entries := make([]DomainEntryDTO, 0, len(index))
	for domain, bindings := range index {
		if len(bindings) == 0 {
			continue
		}
		platforms := make([]string, len(bindings))
		for i, b := range bindings {
			platforms[i] = b.Platform
		}
		entries = append(entries, DomainEntryDTO{Domain: domain, Platforms: platforms})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Domain < entries[j].Domain })
	return entries
}

// FromScanResult converts a rebuild result to a DTO
func FromScanResult(res *catalog.Result) ScanDTO {
	dto := ScanDTO{
		ScanID:     res.ScanID.String(),
		Platforms:  res.Platforms,
		Domains:    res.Domains,
		PKBFiles:   res.PKBFiles,
		Skipped:    res.Skipped,
		DurationMS: res.Duration.Milliseconds(),
	}
	for _, failure := range res.Failures {
		dto.Failures = append(dto.Failures, FailureDTO{
			Platform: failure.Platform,
			Error:    failure.Err.Error(),
		})
	}
	if res.ReconcileErr != nil {
		dto.ReconcileError = res.ReconcileErr.Error()
	}
	return dto
}
