// Package metasearch fans a single query out across every eligible provider
// in parallel, merges the results in priority order, and deduplicates them.
package metasearch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-retrieval-service/internal/domain"
	"github.com/helixir/paper-retrieval-service/internal/observability"
	"github.com/helixir/paper-retrieval-service/internal/providers"
	"github.com/helixir/paper-retrieval-service/internal/resilience"
)

// Config tunes the fan-out executor.
type Config struct {
	// MaxParallelProviders caps how many providers run at once.
	MaxParallelProviders int

	// ProviderTimeout bounds each provider call.
	ProviderTimeout time.Duration

	// DedupEnabled toggles cross-provider deduplication.
	DedupEnabled bool
}

func (c Config) withDefaults() Config {
	if c.MaxParallelProviders <= 0 {
		c.MaxParallelProviders = 3
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 30 * time.Second
	}
	return c
}

// MetaResult aggregates the outcome of one fan-out search.
type MetaResult struct {
	// Papers holds the merged, deduplicated records in provider priority
	// order.
	Papers []domain.PaperRecord

	// BySource maps provider name to its raw result count before dedup.
	BySource map[string]int

	// SuccessfulProviders lists providers that answered, in priority order.
	SuccessfulProviders []string

	// FailedProviders lists providers that errored, in priority order.
	FailedProviders []string

	// ProviderErrors maps failed provider names to their error strings.
	ProviderErrors map[string]string

	// ProviderMetadata merges provider metadata maps, keyed by provider.
	ProviderMetadata map[string]map[string]string

	// TotalSearchTime is the wall time of the whole fan-out.
	TotalSearchTime time.Duration
}

// Executor runs fan-out searches over a fixed provider set, pacing each
// provider through its own rate limiter and guarding it with its own
// circuit breaker.
type Executor struct {
	providers []providers.Provider
	limiters  *resilience.LimiterRegistry
	breakers  *resilience.BreakerRegistry
	policy    resilience.Policy
	config    Config
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// New creates an executor. The provider slice is copied and sorted by
// priority, descending; metrics may be nil.
func New(
	provs []providers.Provider,
	limiters *resilience.LimiterRegistry,
	breakers *resilience.BreakerRegistry,
	policy resilience.Policy,
	cfg Config,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Executor {
	sorted := make([]providers.Provider, len(provs))
	copy(sorted, provs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	return &Executor{
		providers: sorted,
		limiters:  limiters,
		breakers:  breakers,
		policy:    policy,
		config:    cfg.withDefaults(),
		metrics:   metrics,
		log:       log.With().Str("component", "metasearch").Logger(),
	}
}

// Providers returns the executor's providers in priority order.
func (e *Executor) Providers() []providers.Provider {
	return e.providers
}

type providerOutcome struct {
	result *providers.Result
	err    error
}

// Search fans the query out across all eligible providers. One provider
// failing never fails the search; the executor errors only when the query is
// invalid or no provider can serve its type.
func (e *Executor) Search(ctx context.Context, query domain.SearchQuery) (*MetaResult, error) {
	start := time.Now()

	if err := (&query).Resolve(); err != nil {
		return nil, err
	}

	eligible := e.eligibleProviders(query.Type)
	if len(eligible) == 0 {
		return nil, domain.NewError(domain.KindInvalidInput, "",
			"no provider supports search type "+string(query.Type))
	}

	outcomes := make([]providerOutcome, len(eligible))
	sem := make(chan struct{}, e.config.MaxParallelProviders)
	var wg sync.WaitGroup

	for i, p := range eligible {
		wg.Add(1)
		go func(idx int, p providers.Provider) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := e.callProvider(ctx, p, query)
			outcomes[idx] = providerOutcome{result: res, err: err}
		}(i, p)
	}
	wg.Wait()

	meta := &MetaResult{
		BySource:         make(map[string]int),
		ProviderErrors:   make(map[string]string),
		ProviderMetadata: make(map[string]map[string]string),
	}

	// Aggregate in priority order regardless of completion order.
	slog := observability.WithSearchContext(e.log, query.Query, string(query.Type))
	var merged []domain.PaperRecord
	for i, p := range eligible {
		out := outcomes[i]
		plog := observability.WithProviderContext(slog, p.Name())
		if out.err != nil {
			meta.FailedProviders = append(meta.FailedProviders, p.Name())
			meta.ProviderErrors[p.Name()] = out.err.Error()
			plog.Warn().Err(out.err).Msg("provider search failed")
			continue
		}
		meta.SuccessfulProviders = append(meta.SuccessfulProviders, p.Name())
		kept := validRecords(out.result.Papers)
		if dropped := len(out.result.Papers) - len(kept); dropped > 0 {
			plog.Debug().Int("dropped", dropped).Msg("dropped records without doi or title")
		}
		meta.BySource[p.Name()] = len(kept)
		if len(out.result.Metadata) > 0 {
			meta.ProviderMetadata[p.Name()] = out.result.Metadata
		}
		merged = append(merged, kept...)
	}

	if e.config.DedupEnabled {
		deduped := Deduplicate(merged)
		if e.metrics != nil {
			e.metrics.RecordDeduplicated(len(merged) - len(deduped))
		}
		meta.Papers = deduped
	} else {
		meta.Papers = merged
	}

	meta.TotalSearchTime = time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordMetaSearch(meta.TotalSearchTime.Seconds())
	}

	slog.Info().
		Int("papers", len(meta.Papers)).
		Int("providers_ok", len(meta.SuccessfulProviders)).
		Int("providers_failed", len(meta.FailedProviders)).
		Dur("elapsed", meta.TotalSearchTime).
		Msg("meta-search finished")

	return meta, nil
}

// GetByDOI asks DOI-capable providers in priority order and returns the
// first record found. Provider errors are logged and skipped.
func (e *Executor) GetByDOI(ctx context.Context, doi string) (*domain.PaperRecord, error) {
	normalized, err := domain.ParseDOI(doi)
	if err != nil {
		// arXiv-style identifiers pass through untouched.
		normalized = doi
	}

	var lastErr error
	for _, p := range e.eligibleProviders(domain.SearchTypeDOI) {
		rec, err := e.getByDOIFrom(ctx, p, normalized)
		if err != nil {
			lastErr = err
			plog := observability.WithProviderContext(e.log, p.Name())
			plog.Debug().
				Str("doi", normalized).Err(err).Msg("doi lookup failed")
			continue
		}
		if rec != nil {
			return rec, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, domain.NewError(domain.KindInvalidInput, "", "no provider can look up DOIs")
}

func (e *Executor) getByDOIFrom(ctx context.Context, p providers.Provider, doi string) (*domain.PaperRecord, error) {
	var rec *domain.PaperRecord
	err := e.guarded(ctx, p, func(callCtx context.Context) error {
		var err error
		rec, err = p.GetByDOI(callCtx, doi, providers.SearchContext{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// callProvider runs one provider search through its limiter, breaker, and
// the retry policy, recording metrics along the way.
func (e *Executor) callProvider(ctx context.Context, p providers.Provider, query domain.SearchQuery) (*providers.Result, error) {
	if e.metrics != nil {
		e.metrics.RecordSearchStarted(p.Name())
	}
	start := time.Now()

	var res *providers.Result
	err := e.guarded(ctx, p, func(callCtx context.Context) error {
		var err error
		res, err = p.Search(callCtx, query, providers.SearchContext{Timeout: e.config.ProviderTimeout})
		return err
	})

	elapsed := time.Since(start)
	if err != nil {
		if e.metrics != nil {
			kind := domain.KindOf(err)
			e.metrics.RecordSearchFailed(p.Name(), string(kind), elapsed.Seconds())
			if kind == domain.KindRateLimited {
				e.metrics.RecordRateLimited(p.Name())
			}
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordSearchCompleted(p.Name(), len(res.Papers), elapsed.Seconds())
	}
	return res, nil
}

// guarded wraps a provider call in the full resilience stack. Each retry
// attempt waits on the provider's rate limiter first, so pacing applies to
// retries as much as to fresh calls, then passes through the provider's
// circuit breaker. Attempt wall time feeds rate adaptation.
func (e *Executor) guarded(ctx context.Context, p providers.Provider, fn func(ctx context.Context) error) error {
	limiter := e.limiters.Get(p.Name())
	breaker := e.breakers.Get(p.Name())

	return resilience.Do(ctx, observability.WithProviderContext(e.log, p.Name()), p.Name(), e.policy, func(attemptCtx context.Context) error {
		if err := limiter.Wait(attemptCtx); err != nil {
			return domain.WrapError(domain.KindNetworkTimeout, p.Name(), err)
		}

		callCtx := attemptCtx
		var cancel context.CancelFunc
		if e.config.ProviderTimeout > 0 {
			callCtx, cancel = context.WithTimeout(attemptCtx, e.config.ProviderTimeout)
			defer cancel()
		}

		start := time.Now()
		err := breaker.Execute(callCtx, fn)
		if err == nil {
			limiter.RecordResponseTime(time.Since(start))
		}
		if err != nil && callCtx.Err() == context.DeadlineExceeded && attemptCtx.Err() == nil {
			return domain.WrapError(domain.KindNetworkTimeout, p.Name(), err)
		}
		return err
	})
}

func (e *Executor) eligibleProviders(st domain.SearchType) []providers.Provider {
	var out []providers.Provider
	for _, p := range e.providers {
		if providers.SupportsSearchType(p, st) {
			out = append(out, p)
		}
	}
	return out
}
