package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-retrieval-service/internal/config"
	"github.com/helixir/paper-retrieval-service/internal/mirror"
	"github.com/helixir/paper-retrieval-service/internal/providers"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func testProviders(t *testing.T, cfg *config.Config) []providers.Provider {
	t.Helper()
	client := providers.NewHTTPClient(providers.HTTPClientConfig{})
	mirrors := mirror.NewManager(cfg.Mirrors.URLs, client.Underlying(), zerolog.Nop())
	provs := buildProviders(cfg, client, client, mirrors, zerolog.Nop())
	require.NotEmpty(t, provs)
	return provs
}

func TestLimiterConfigs(t *testing.T) {
	t.Run("uses configured rates", func(t *testing.T) {
		cfg := testConfig(t)
		provs := testProviders(t, cfg)

		configs := limiterConfigs(cfg, provs)
		require.Contains(t, configs, "arxiv")
		assert.Equal(t, cfg.Providers.ArXiv.RateLimit, configs["arxiv"].RatePerSecond)
		assert.Equal(t, cfg.Providers.ArXiv.BurstSize, configs["arxiv"].BurstSize)
	})

	t.Run("zero rate derives from the provider base delay", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Providers.ArXiv.RateLimit = 0
		cfg.Providers.CrossRef.RateLimit = 0
		cfg.Providers.SciHub.RateLimit = 0
		provs := testProviders(t, cfg)

		configs := limiterConfigs(cfg, provs)
		// arXiv asks for 3 s between requests, CrossRef 1 s, Sci-Hub 2 s.
		assert.InDelta(t, 1.0/3.0, configs["arxiv"].RatePerSecond, 1e-9)
		assert.InDelta(t, 1.0, configs["crossref"].RatePerSecond, 1e-9)
		assert.InDelta(t, 0.5, configs["scihub"].RatePerSecond, 1e-9)
	})

	t.Run("covers only enabled providers", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Providers.SciHub.Enabled = false
		provs := testProviders(t, cfg)

		configs := limiterConfigs(cfg, provs)
		assert.NotContains(t, configs, "scihub")
		assert.Contains(t, configs, "arxiv")
		assert.Contains(t, configs, "crossref")
	})
}
