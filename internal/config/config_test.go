package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)

	// Provider defaults
	assert.True(t, cfg.Providers.ArXiv.Enabled)
	assert.Equal(t, "https://export.arxiv.org/api", cfg.Providers.ArXiv.BaseURL)
	assert.Equal(t, 0.33, cfg.Providers.ArXiv.RateLimit)
	assert.True(t, cfg.Providers.CrossRef.Enabled)
	assert.Equal(t, "https://api.crossref.org", cfg.Providers.CrossRef.BaseURL)
	assert.True(t, cfg.Providers.SciHub.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Providers.SciHub.Timeout)

	// Mirror defaults
	assert.Contains(t, cfg.Mirrors.URLs, "https://sci-hub.se")
	assert.Equal(t, 5*time.Minute, cfg.Mirrors.ProbeInterval)

	// Meta-search defaults
	assert.Equal(t, 3, cfg.MetaSearch.MaxParallelProviders)
	assert.Equal(t, 30*time.Second, cfg.MetaSearch.ProviderTimeout)
	assert.True(t, cfg.MetaSearch.DedupEnabled)

	// Resilience defaults
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 2, cfg.Resilience.SuccessThreshold)
	assert.Equal(t, time.Minute, cfg.Resilience.RecoveryTimeout)

	// Download defaults
	assert.Equal(t, "./downloads", cfg.Download.Directory)
	assert.Equal(t, 32*1024, cfg.Download.ChunkSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Download.ProgressInterval)

	// Health defaults
	assert.Equal(t, time.Minute, cfg.Health.Interval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAPERFETCH_LOGGING_LEVEL", "debug")
	t.Setenv("PAPERFETCH_DOWNLOAD_DIRECTORY", "/tmp/papers")
	t.Setenv("PAPERFETCH_META_SEARCH_MAX_PARALLEL_PROVIDERS", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/papers", cfg.Download.Directory)
	assert.Equal(t, 5, cfg.MetaSearch.MaxParallelProviders)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
logging:
  level: warn
providers:
  crossref:
    enabled: false
mirrors:
  urls:
    - https://mirror.example
download:
  directory: /data/papers
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Providers.CrossRef.Enabled)
	assert.Equal(t, []string{"https://mirror.example"}, cfg.Mirrors.URLs)
	assert.Equal(t, "/data/papers", cfg.Download.Directory)

	// Unmentioned sections keep their defaults.
	assert.True(t, cfg.Providers.ArXiv.Enabled)
	assert.Equal(t, 3, cfg.MetaSearch.MaxParallelProviders)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("bad log level", func(t *testing.T) {
		cfg := valid(t)
		cfg.Logging.Level = "verbose"
		require.Error(t, cfg.Validate())
	})

	t.Run("zero parallelism", func(t *testing.T) {
		cfg := valid(t)
		cfg.MetaSearch.MaxParallelProviders = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("empty download directory", func(t *testing.T) {
		cfg := valid(t)
		cfg.Download.Directory = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("enabled provider with zero rate derives from base delay", func(t *testing.T) {
		cfg := valid(t)
		cfg.Providers.ArXiv.RateLimit = 0
		require.NoError(t, cfg.Validate())
	})

	t.Run("enabled provider with negative rate", func(t *testing.T) {
		cfg := valid(t)
		cfg.Providers.ArXiv.RateLimit = -1
		require.Error(t, cfg.Validate())
	})

	t.Run("disabled provider skips checks", func(t *testing.T) {
		cfg := valid(t)
		cfg.Providers.ArXiv.Enabled = false
		cfg.Providers.ArXiv.RateLimit = -1
		require.NoError(t, cfg.Validate())
	})

	t.Run("inverted rate bounds", func(t *testing.T) {
		cfg := valid(t)
		cfg.Providers.CrossRef.MinRate = 10
		cfg.Providers.CrossRef.MaxRate = 1
		require.Error(t, cfg.Validate())
	})

	t.Run("scihub without mirrors", func(t *testing.T) {
		cfg := valid(t)
		cfg.Mirrors.URLs = nil
		require.Error(t, cfg.Validate())
	})

	t.Run("negative recovery timeout", func(t *testing.T) {
		cfg := valid(t)
		cfg.Resilience.RecoveryTimeout = 0
		require.Error(t, cfg.Validate())
	})
}
