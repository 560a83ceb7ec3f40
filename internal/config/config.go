// Package config provides configuration management for the paper retrieval
// service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the paper retrieval service.
type Config struct {
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Providers contains per-provider API settings.
	Providers ProvidersConfig `mapstructure:"providers"`
	// Mirrors contains the Sci-Hub mirror pool settings.
	Mirrors MirrorsConfig `mapstructure:"mirrors"`
	// MetaSearch contains fan-out search settings.
	MetaSearch MetaSearchConfig `mapstructure:"meta_search"`
	// Resilience contains circuit breaker and retry settings.
	Resilience ResilienceConfig `mapstructure:"resilience"`
	// Download contains file download settings.
	Download DownloadConfig `mapstructure:"download"`
	// Health contains periodic health check settings.
	Health HealthConfig `mapstructure:"health"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stderr, stdout, file path).
	// stdout carries the JSON-RPC stream, so logs default to stderr.
	Output string `mapstructure:"output"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// ProvidersConfig holds configuration for all search providers.
type ProvidersConfig struct {
	// ArXiv contains arXiv API settings.
	ArXiv ProviderConfig `mapstructure:"arxiv"`
	// CrossRef contains CrossRef API settings.
	CrossRef ProviderConfig `mapstructure:"crossref"`
	// SciHub contains Sci-Hub settings (mirrors live under mirrors).
	SciHub ProviderConfig `mapstructure:"scihub"`
	// UserAgent is sent on provider requests unless a provider overrides it.
	UserAgent string `mapstructure:"user_agent"`
	// MailTo is included on CrossRef requests for their polite pool.
	MailTo string `mapstructure:"mail_to"`
}

// ProviderConfig holds configuration for a single search provider.
type ProviderConfig struct {
	// Enabled controls whether this provider participates in searches.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the steady-state requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is how many requests may exceed the steady rate per minute.
	BurstSize int `mapstructure:"burst_size"`
	// MinRate and MaxRate bound adaptive rate adjustment.
	MinRate float64 `mapstructure:"min_rate"`
	MaxRate float64 `mapstructure:"max_rate"`
	// Adaptive enables response-time based rate adjustment.
	Adaptive bool `mapstructure:"adaptive"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// MirrorsConfig holds the Sci-Hub mirror pool configuration.
type MirrorsConfig struct {
	// URLs is the ordered mirror list; order breaks ranking ties.
	URLs []string `mapstructure:"urls"`
	// ProbeInterval is how often mirrors are probed in the background.
	// Zero disables background probing.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// MetaSearchConfig holds fan-out search configuration.
type MetaSearchConfig struct {
	// MaxParallelProviders caps how many providers are queried at once.
	MaxParallelProviders int `mapstructure:"max_parallel_providers"`
	// ProviderTimeout bounds each provider call within a search.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	// DedupEnabled controls DOI/title deduplication of merged results.
	DedupEnabled bool `mapstructure:"dedup_enabled"`
}

// ResilienceConfig holds circuit breaker configuration shared by all
// providers.
type ResilienceConfig struct {
	// FailureThreshold is consecutive qualifying failures before a circuit
	// opens.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// SuccessThreshold is successful probes before a half-open circuit
	// closes.
	SuccessThreshold int `mapstructure:"success_threshold"`
	// RecoveryTimeout is how long a circuit stays open before probing.
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`
	// HalfOpenMaxCalls bounds concurrent probes in the half-open state.
	HalfOpenMaxCalls int `mapstructure:"half_open_max_calls"`
}

// DownloadConfig holds file download configuration.
type DownloadConfig struct {
	// Directory is the default download destination.
	Directory string `mapstructure:"directory"`
	// ChunkSize is the streaming read size in bytes.
	ChunkSize int `mapstructure:"chunk_size"`
	// ProgressInterval is how often download progress is published.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// HealthConfig holds periodic health check configuration.
type HealthConfig struct {
	// Interval is how often the background health loop re-checks.
	// Zero disables the loop; health_check still works on demand.
	Interval time.Duration `mapstructure:"interval"`
}

// Load loads configuration from environment variables and an optional
// config file. path overrides the default search locations when non-empty.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAPERFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/paper-retrieval-service")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found is OK, we'll use env vars and defaults
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Provider defaults - arXiv
	v.SetDefault("providers.arxiv.enabled", true)
	v.SetDefault("providers.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("providers.arxiv.timeout", "30s")
	// arXiv asks for no more than one request every three seconds.
	v.SetDefault("providers.arxiv.rate_limit", 0.33)
	v.SetDefault("providers.arxiv.burst_size", 2)
	v.SetDefault("providers.arxiv.min_rate", 0.1)
	v.SetDefault("providers.arxiv.max_rate", 1.0)
	v.SetDefault("providers.arxiv.adaptive", true)
	v.SetDefault("providers.arxiv.max_results", 100)

	// Provider defaults - CrossRef
	v.SetDefault("providers.crossref.enabled", true)
	v.SetDefault("providers.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("providers.crossref.timeout", "30s")
	v.SetDefault("providers.crossref.rate_limit", 1.0)
	v.SetDefault("providers.crossref.burst_size", 3)
	v.SetDefault("providers.crossref.min_rate", 0.2)
	v.SetDefault("providers.crossref.max_rate", 5.0)
	v.SetDefault("providers.crossref.adaptive", true)
	v.SetDefault("providers.crossref.max_results", 100)

	// Provider defaults - Sci-Hub
	v.SetDefault("providers.scihub.enabled", true)
	v.SetDefault("providers.scihub.timeout", "45s")
	v.SetDefault("providers.scihub.rate_limit", 0.5)
	v.SetDefault("providers.scihub.burst_size", 1)
	v.SetDefault("providers.scihub.min_rate", 0.1)
	v.SetDefault("providers.scihub.max_rate", 1.0)
	v.SetDefault("providers.scihub.adaptive", true)
	v.SetDefault("providers.scihub.max_results", 1)

	v.SetDefault("providers.user_agent", "Helixir-PaperRetrieval/1.0")
	v.SetDefault("providers.mail_to", "")

	// Mirror pool defaults
	v.SetDefault("mirrors.urls", []string{
		"https://sci-hub.se",
		"https://sci-hub.st",
		"https://sci-hub.ru",
	})
	v.SetDefault("mirrors.probe_interval", "5m")

	// Meta-search defaults
	v.SetDefault("meta_search.max_parallel_providers", 3)
	v.SetDefault("meta_search.provider_timeout", "30s")
	v.SetDefault("meta_search.dedup_enabled", true)

	// Resilience defaults
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.success_threshold", 2)
	v.SetDefault("resilience.recovery_timeout", "60s")
	v.SetDefault("resilience.half_open_max_calls", 1)

	// Download defaults
	v.SetDefault("download.directory", "./downloads")
	v.SetDefault("download.chunk_size", 32*1024)
	v.SetDefault("download.progress_interval", "500ms")

	// Health defaults
	v.SetDefault("health.interval", "60s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.MetaSearch.MaxParallelProviders <= 0 {
		return fmt.Errorf("meta_search max_parallel_providers must be positive")
	}
	if c.MetaSearch.ProviderTimeout <= 0 {
		return fmt.Errorf("meta_search provider_timeout must be positive")
	}

	if c.Resilience.FailureThreshold <= 0 {
		return fmt.Errorf("resilience failure_threshold must be positive")
	}
	if c.Resilience.SuccessThreshold <= 0 {
		return fmt.Errorf("resilience success_threshold must be positive")
	}
	if c.Resilience.RecoveryTimeout <= 0 {
		return fmt.Errorf("resilience recovery_timeout must be positive")
	}

	if c.Download.Directory == "" {
		return fmt.Errorf("download directory is required")
	}
	if c.Download.ChunkSize <= 0 {
		return fmt.Errorf("download chunk_size must be positive")
	}

	for name, p := range map[string]ProviderConfig{
		"arxiv":    c.Providers.ArXiv,
		"crossref": c.Providers.CrossRef,
		"scihub":   c.Providers.SciHub,
	} {
		if !p.Enabled {
			continue
		}
		// Zero means the rate is derived from the provider's base delay.
		if p.RateLimit < 0 {
			return fmt.Errorf("provider %s rate_limit must not be negative", name)
		}
		if p.MinRate > 0 && p.MaxRate > 0 && p.MinRate > p.MaxRate {
			return fmt.Errorf("provider %s min_rate (%v) must be <= max_rate (%v)", name, p.MinRate, p.MaxRate)
		}
	}

	if c.Providers.SciHub.Enabled && len(c.Mirrors.URLs) == 0 {
		return fmt.Errorf("scihub is enabled but no mirrors are configured")
	}

	return nil
}
