package presentation

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates an --output flag value.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatJSON, FormatYAML:
		return Format(name), nil
	default:
		return "", fmt.Errorf("output format must be \"json\" or \"yaml\", got %q", name)
	}
}

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	format Format
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer, format Format) *Formatter {
	return &Formatter{
		writer: writer,
		format: format,
	}
}

// FormatScan formats a rebuild summary
func (f *Formatter) FormatScan(scan ScanDTO) error {
	return f.encode(scan)
}

// FormatResolution formats a lookup outcome
func (f *Formatter) FormatResolution(res ResolutionDTO) error {
	return f.encode(res)
}

// FormatPlatforms formats the platform list
func (f *Formatter) FormatPlatforms(platforms []PlatformDTO) error {
	return f.encode(platforms)
}

// FormatPlatform formats one platform with its domains
func (f *Formatter) FormatPlatform(platform PlatformDetailDTO) error {
	return f.encode(platform)
}

// FormatDomains formats the domain index
func (f *Formatter) FormatDomains(domains []DomainEntryDTO) error {
	return f.encode(domains)
}

// FormatMisses formats the ledger contents
func (f *Formatter) FormatMisses(misses MissesDTO) error {
	return f.encode(misses)
}

func (f *Formatter) encode(v any) error {
	switch f.format {
	case FormatYAML:
		encoder := yaml.NewEncoder(f.writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			_ = encoder.Close()
			return err
		}
		return encoder.Close()
	default:
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	}
}
