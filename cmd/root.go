package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/annedurand/ezpaarse/internal/config"
	"github.com/annedurand/ezpaarse/internal/log"
	"github.com/annedurand/ezpaarse/internal/presentation"
	"github.com/annedurand/ezpaarse/internal/resolver"
	"github.com/annedurand/ezpaarse/internal/tracing"
)

var (
	version    = "dev"
	cfgFile    string
	debugFlag  bool
	outputFlag string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ezpaarse",
	Short: "Domain-resolution registry for electronic-resource access logs",
	Long: `ezpaarse resolves access-log hostnames to the platform parsers that
understand them. It scans a platforms directory (one subdirectory per
platform, each with a manifest.json and a parser file), builds the
domain index, and records hostnames that no platform claims in a
plain-text miss ledger for triage.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/ezpaarse/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write a debug log (overrides log.enabled)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "json",
		"output format: json or yaml")
	rootCmd.PersistentFlags().StringP("platforms", "p", "",
		"platforms directory (overrides platforms_dir)")

	_ = viper.BindPFlag("platforms_dir", rootCmd.PersistentFlags().Lookup("platforms"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("platforms_dir", defaults.PlatformsDir)
	viper.SetDefault("catalog.skeleton", defaults.Catalog.Skeleton)
	viper.SetDefault("catalog.handler_file", defaults.Catalog.HandlerFile)
	viper.SetDefault("ledger.path", defaults.Ledger.Path)
	viper.SetDefault("ledger.queue_size", defaults.Ledger.QueueSize)
	viper.SetDefault("handlers.ttl", defaults.Handlers.TTL)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("log.enabled", defaults.Log.Enabled)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .ezpaarse/config.yaml (current directory)
		// 2. ~/.config/ezpaarse/config.yaml (user config)
		if _, err := os.Stat(".ezpaarse/config.yaml"); err == nil {
			viper.SetConfigFile(".ezpaarse/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "ezpaarse"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .ezpaarse/config.yaml
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := ".ezpaarse/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// setup validates the config and brings up logging and tracing. The returned
// cleanup flushes both and must run before the process exits.
func setup(cmd *cobra.Command) (func(), error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cleanupLog := func() {}
	if debugFlag || cfg.Log.Enabled {
		logPath := cfg.Log.Path
		if logPath == "" {
			logPath = config.DefaultLogFilePath()
		}
		var err error
		cleanupLog, err = log.Init(logPath)
		if err != nil {
			return nil, fmt.Errorf("initializing logging: %w", err)
		}
		log.SetEnabled(true)
		log.SetMinLevel(config.LevelFromString(cfg.Log.Level))
	}

	provider, err := newTraceProvider()
	if err != nil {
		cleanupLog()
		return nil, err
	}
	traceProvider = provider

	return func() {
		if traceProvider != nil {
			_ = traceProvider.Shutdown(cmd.Context())
		}
		cleanupLog()
	}, nil
}

// traceProvider is set by setup and consumed by newService.
var traceProvider *tracing.Provider

func newTraceProvider() (*tracing.Provider, error) {
	tcfg := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	}
	if tcfg.FilePath == "" {
		tcfg.FilePath = config.DefaultTracesFilePath()
	}

	provider, err := tracing.NewProvider(tcfg)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	return provider, nil
}

// newService wires the resolver service from the loaded config.
func newService() (*resolver.Service, error) {
	if _, err := os.Stat(cfg.PlatformsDir); err != nil {
		return nil, fmt.Errorf("platforms directory %s: %w", cfg.PlatformsDir, err)
	}

	opts := []resolver.Option{
		resolver.WithSkeleton(cfg.Catalog.Skeleton),
		resolver.WithHandlerFile(cfg.Catalog.HandlerFile),
		resolver.WithLedgerQueueSize(cfg.Ledger.QueueSize),
		resolver.WithHandlerTTL(cfg.Handlers.TTL),
		resolver.WithDebounce(cfg.Watch.Debounce),
	}
	if traceProvider != nil && traceProvider.Enabled() {
		opts = append(opts, resolver.WithTracer(traceProvider.Tracer()))
	}

	return resolver.New(cfg.PlatformsDir, cfg.Ledger.Path, opts...), nil
}

// newFormatter builds the output formatter from the --output flag.
func newFormatter() (*presentation.Formatter, error) {
	format, err := presentation.ParseFormat(outputFlag)
	if err != nil {
		return nil, err
	}
	return presentation.NewFormatter(os.Stdout, format), nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
