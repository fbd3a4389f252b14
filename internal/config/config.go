// Package config provides configuration types and defaults for ezpaarse.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/annedurand/ezpaarse/internal/log"
)

// Config holds all configuration options for ezpaarse.
type Config struct {
	// PlatformsDir is the platform repository root, one directory per
	// platform. Default: "platforms" in the working directory.
	PlatformsDir string `mapstructure:"platforms_dir"`

	Catalog  CatalogConfig `mapstructure:"catalog"`
	Ledger   LedgerConfig  `mapstructure:"ledger"`
	Handlers HandlerConfig `mapstructure:"handlers"`
	Watch    WatchConfig   `mapstructure:"watch"`
	Log      LogConfig     `mapstructure:"log"`
	Tracing  TracingConfig `mapstructure:"tracing"`
}

// CatalogConfig controls how the platforms directory is scanned.
type CatalogConfig struct {
	// Skeleton is the template directory name ignored by scans.
	// Default: "js-parser-skeleton"
	Skeleton string `mapstructure:"skeleton"`

	// HandlerFile is the parser file required in each platform directory.
	// Default: "parser.js"
	HandlerFile string `mapstructure:"handler_file"`
}

// LedgerConfig controls the missing-domain ledger.
type LedgerConfig struct {
	// Path is the file unresolved hostnames are appended to.
	// Default: "platforms-miss.csv" in the working directory.
	Path string `mapstructure:"path"`

	// QueueSize bounds how many recorded misses may wait for the writer.
	// Overflow is dropped with a warning. Default: 256.
	QueueSize int `mapstructure:"queue_size"`
}

// HandlerConfig controls the parser-handler cache.
type HandlerConfig struct {
	// TTL is how long a loaded handler source stays cached.
	// Default: 30m
	TTL time.Duration `mapstructure:"ttl"`
}

// WatchConfig controls the hot-reload watcher.
type WatchConfig struct {
	// Debounce is the per-platform quiet window before a changed platform
	// reloads. Default: 1s
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig controls the debug log file.
type LogConfig struct {
	// Enabled turns the log on. The --debug flag enables it too.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Path is the log file location.
	// Default: ~/.config/ezpaarse/ezpaarse.log
	Path string `mapstructure:"path"`

	// Level is the minimum severity written.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "debug"
	Level string `mapstructure:"level"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	// Default: ~/.config/ezpaarse/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// 1.0 = all traces, 0.1 = 10% of traces
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/ezpaarse/traces/traces.jsonl or empty string if home dir
// unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ezpaarse", "traces", "traces.jsonl")
}

// DefaultLogFilePath returns the default path for the debug log.
// Returns ~/.config/ezpaarse/ezpaarse.log or empty string if home dir
// unavailable.
func DefaultLogFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ezpaarse", "ezpaarse.log")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		PlatformsDir: "platforms",
		Catalog: CatalogConfig{
			Skeleton:    "js-parser-skeleton",
			HandlerFile: "parser.js",
		},
		Ledger: LedgerConfig{
			Path:      "platforms-miss.csv",
			QueueSize: 256,
		},
		Handlers: HandlerConfig{
			TTL: 30 * time.Minute,
		},
		Watch: WatchConfig{
			Debounce: 1 * time.Second,
		},
		Log: LogConfig{
			Enabled: false,
			Path:    "", // Derived from config dir at runtime
			Level:   "debug",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Validate checks the whole configuration for errors.
// Empty values fall back to defaults and are valid.
func Validate(cfg Config) error {
	if cfg.PlatformsDir == "" {
		return fmt.Errorf("platforms_dir is required")
	}
	if cfg.Handlers.TTL < 0 {
		return fmt.Errorf("handlers.ttl must not be negative, got %v", cfg.Handlers.TTL)
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %v", cfg.Watch.Debounce)
	}
	if err := ValidateLedger(cfg.Ledger); err != nil {
		return err
	}
	if err := ValidateLog(cfg.Log); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateLedger checks ledger configuration for errors.
func ValidateLedger(ledger LedgerConfig) error {
	if ledger.QueueSize < 0 {
		return fmt.Errorf("ledger.queue_size must not be negative, got %d", ledger.QueueSize)
	}
	return nil
}

// ValidateLog checks log configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateLog(logCfg LogConfig) error {
	if logCfg.Level != "" {
		switch logCfg.Level {
		case "debug", "info", "warn", "error":
			// Valid
		default:
			return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", logCfg.Level)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	// Validate SampleRate is in range [0.0, 1.0]
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	// Validate Exporter is a valid option
	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tracing.Enabled {
		// FilePath is required when Exporter is "file"
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}

		// OTLPEndpoint is required when Exporter is "otlp"
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// LevelFromString maps a config level name onto a log.Level. Unknown names
// fall back to debug.
func LevelFromString(name string) log.Level {
	switch name {
	case "info":
		return log.LevelInfo
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelDebug
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# ezPAARSE Configuration

# Path to the platforms repository (one directory per platform)
platforms_dir: platforms

# Platform directory scanning
catalog:
  skeleton: js-parser-skeleton   # template directory ignored by scans
  handler_file: parser.js        # parser file required in every platform

# Missing-domain ledger
# Hostnames that reach the resolver without a registered parser are
# appended here; rebuilds drop the ones that have since gained one.
ledger:
  path: platforms-miss.csv
  queue_size: 256   # pending-append buffer; overflow drops with a warning

# Parser handler cache
handlers:
  ttl: 30m   # how long loaded handler sources stay cached

# Hot reload (watch command)
watch:
  debounce: 1s   # quiet window before a changed platform reloads

# Debug log
log:
  enabled: false
  # path: ~/.config/ezpaarse/ezpaarse.log
  level: debug   # debug, info, warn, or error

# Distributed tracing
# Gives end-to-end visibility into rebuilds and lookups
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/ezpaarse/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#
# Example: Enable tracing with file export
# tracing:
#   enabled: true
#   exporter: file
#   file_path: ~/.config/ezpaarse/traces/traces.jsonl
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	// Create parent directory if needed
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write the template
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
