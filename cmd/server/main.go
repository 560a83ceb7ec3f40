// Package main provides the entry point for the paper retrieval JSON-RPC
// server. The server speaks line-delimited JSON-RPC 2.0 on stdin/stdout, so
// all logging goes to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/paper-retrieval-service/internal/config"
	"github.com/helixir/paper-retrieval-service/internal/download"
	"github.com/helixir/paper-retrieval-service/internal/health"
	"github.com/helixir/paper-retrieval-service/internal/metasearch"
	"github.com/helixir/paper-retrieval-service/internal/mirror"
	"github.com/helixir/paper-retrieval-service/internal/observability"
	"github.com/helixir/paper-retrieval-service/internal/providers"
	"github.com/helixir/paper-retrieval-service/internal/providers/arxiv"
	"github.com/helixir/paper-retrieval-service/internal/providers/crossref"
	"github.com/helixir/paper-retrieval-service/internal/providers/scihub"
	"github.com/helixir/paper-retrieval-service/internal/resilience"
	"github.com/helixir/paper-retrieval-service/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		downloadDir string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:           "paper-retrieval-service",
		Short:         "Federated academic paper search and retrieval over JSON-RPC",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if downloadDir != "" {
				cfg.Download.Directory = downloadDir
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&downloadDir, "download-dir", "", "default download directory (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger.Info().Msg("paper retrieval service starting")

	metrics := observability.NewMetrics("paper_retrieval")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		UserAgent: cfg.Providers.UserAgent,
	})
	// Scraped mirrors and PDF hosts are slower than the structured APIs.
	scrapeClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Timeout:   cfg.Providers.SciHub.Timeout,
		UserAgent: cfg.Providers.UserAgent,
	})

	mirrors := mirror.NewManager(cfg.Mirrors.URLs, scrapeClient.Underlying(), logger)

	provs := buildProviders(cfg, apiClient, scrapeClient, mirrors, logger)
	if len(provs) == 0 {
		return fmt.Errorf("no providers enabled")
	}

	limiters := resilience.NewLimiterRegistry(limiterConfigs(cfg, provs), resilience.LimiterConfig{
		RatePerSecond: 1.0,
	})
	breakers := resilience.NewBreakerRegistry(nil, resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		SuccessThreshold: cfg.Resilience.SuccessThreshold,
		RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Resilience.HalfOpenMaxCalls,
	})

	executor := metasearch.New(provs, limiters, breakers, resilience.DefaultPolicy(), metasearch.Config{
		MaxParallelProviders: cfg.MetaSearch.MaxParallelProviders,
		ProviderTimeout:      cfg.MetaSearch.ProviderTimeout,
		DedupEnabled:         cfg.MetaSearch.DedupEnabled,
	}, metrics, logger)

	downloader := download.NewDownloader(download.Config{
		Directory:        cfg.Download.Directory,
		UserAgent:        cfg.Providers.UserAgent,
		ChunkSize:        cfg.Download.ChunkSize,
		ProgressInterval: cfg.Download.ProgressInterval,
	}, scrapeClient.Underlying(), executor, metrics, logger)

	checker := health.New(breakers, limiters, mirrors, downloader, cfg.Download.Directory, logger)

	if cfg.Health.Interval > 0 {
		go checker.Run(ctx, cfg.Health.Interval)
	}
	if cfg.Mirrors.ProbeInterval > 0 && cfg.Providers.SciHub.Enabled {
		go probeMirrors(ctx, mirrors, cfg.Mirrors.ProbeInterval)
	}

	srv := server.New(executor, downloader, checker, logger)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info().Msg("paper retrieval service stopped")
	return nil
}

// limiterConfigs maps per-provider rate settings into the limiter registry's
// shape, keyed by provider name. A zero configured rate derives from the
// provider's polite base delay: one request per BaseDelay.
func limiterConfigs(cfg *config.Config, provs []providers.Provider) map[string]resilience.LimiterConfig {
	byName := map[string]config.ProviderConfig{
		"arxiv":    cfg.Providers.ArXiv,
		"crossref": cfg.Providers.CrossRef,
		"scihub":   cfg.Providers.SciHub,
	}
	out := make(map[string]resilience.LimiterConfig, len(provs))
	for _, p := range provs {
		pc := byName[p.Name()]
		rate := pc.RateLimit
		if rate == 0 && p.BaseDelay() > 0 {
			rate = 1 / p.BaseDelay().Seconds()
		}
		out[p.Name()] = resilience.LimiterConfig{
			RatePerSecond: rate,
			BurstSize:     pc.BurstSize,
			Adaptive:      pc.Adaptive,
			MinRate:       pc.MinRate,
			MaxRate:       pc.MaxRate,
		}
	}
	return out
}

func buildProviders(
	cfg *config.Config,
	apiClient, scrapeClient *providers.HTTPClient,
	mirrors *mirror.Manager,
	logger zerolog.Logger,
) []providers.Provider {
	var provs []providers.Provider
	if cfg.Providers.ArXiv.Enabled {
		provs = append(provs, arxiv.New(arxiv.Config{
			BaseURL:    cfg.Providers.ArXiv.BaseURL,
			MaxResults: cfg.Providers.ArXiv.MaxResults,
		}, apiClient))
	}
	if cfg.Providers.CrossRef.Enabled {
		provs = append(provs, crossref.New(crossref.Config{
			BaseURL:    cfg.Providers.CrossRef.BaseURL,
			MaxResults: cfg.Providers.CrossRef.MaxResults,
			Mailto:     cfg.Providers.MailTo,
		}, apiClient))
	}
	if cfg.Providers.SciHub.Enabled {
		provs = append(provs, scihub.New(scihub.Config{}, scrapeClient, mirrors, logger))
	}
	return provs
}

func probeMirrors(ctx context.Context, mirrors *mirror.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mirrors.HealthCheckAll(ctx)
		}
	}
}
