package metasearch

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-retrieval-service/internal/domain"
	"github.com/helixir/paper-retrieval-service/internal/providers"
	"github.com/helixir/paper-retrieval-service/internal/resilience"
)

// mockProvider implements providers.Provider with overridable behavior.
type mockProvider struct {
	name      string
	priority  int
	fulltext  bool
	types     []domain.SearchType
	baseDelay time.Duration

	searchFn   func(ctx context.Context, q domain.SearchQuery) (*providers.Result, error)
	getByDOIFn func(ctx context.Context, doi string) (*domain.PaperRecord, error)

	searchCalls atomic.Int64
}

func (m *mockProvider) Name() string        { return m.name }
func (m *mockProvider) Description() string { return "mock" }
func (m *mockProvider) SupportedSearchTypes() []domain.SearchType {
	if m.types == nil {
		return []domain.SearchType{domain.SearchTypeDOI, domain.SearchTypeTitle, domain.SearchTypeKeywords}
	}
	return m.types
}
func (m *mockProvider) SupportsFullText() bool { return m.fulltext }
func (m *mockProvider) Priority() int          { return m.priority }
func (m *mockProvider) BaseDelay() time.Duration {
	if m.baseDelay == 0 {
		return time.Millisecond
	}
	return m.baseDelay
}

func (m *mockProvider) Search(ctx context.Context, q domain.SearchQuery, _ providers.SearchContext) (*providers.Result, error) {
	m.searchCalls.Add(1)
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return &providers.Result{Source: m.name}, nil
}

func (m *mockProvider) GetByDOI(ctx context.Context, doi string, sctx providers.SearchContext) (*domain.PaperRecord, error) {
	if m.getByDOIFn != nil {
		return m.getByDOIFn(ctx, doi)
	}
	return providers.GetByDOIViaSearch(ctx, m, doi, sctx)
}

func (m *mockProvider) HealthCheck(ctx context.Context) error { return nil }

// mockResolver adds direct PDF resolution on top of mockProvider.
type mockResolver struct {
	mockProvider
	pdfFn func(ctx context.Context, doi string) (string, error)
}

func (m *mockResolver) GetPDFURL(ctx context.Context, doi string, _ providers.SearchContext) (string, error) {
	return m.pdfFn(ctx, doi)
}

func papersResult(source string, titles ...string) *providers.Result {
	res := &providers.Result{Source: source}
	for _, title := range titles {
		res.Papers = append(res.Papers, domain.PaperRecord{Title: title})
	}
	return res
}

func singleAttemptPolicy() resilience.Policy {
	cfg := resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	return resilience.Policy{Default: cfg, Fast: cfg, Slow: cfg, RateLimited: cfg}
}

func newTestExecutor(cfg Config, provs ...providers.Provider) *Executor {
	limiters := resilience.NewLimiterRegistry(nil, resilience.LimiterConfig{RatePerSecond: 1000})
	breakers := resilience.NewBreakerRegistry(nil, resilience.BreakerConfig{FailureThreshold: 100})
	return New(provs, limiters, breakers, singleAttemptPolicy(), cfg, nil, zerolog.Nop())
}

func TestExecutor_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("aggregates in priority order", func(t *testing.T) {
		low := &mockProvider{name: "low", priority: 10, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
			return papersResult("low", "Paper C"), nil
		}}
		high := &mockProvider{name: "high", priority: 90, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
			time.Sleep(10 * time.Millisecond) // finishes last, still listed first
			return papersResult("high", "Paper A", "Paper B"), nil
		}}

		e := newTestExecutor(Config{DedupEnabled: true}, low, high)
		res, err := e.Search(ctx, domain.SearchQuery{Query: "test"})
		require.NoError(t, err)

		require.Len(t, res.Papers, 3)
		assert.Equal(t, "Paper A", res.Papers[0].Title)
		assert.Equal(t, "Paper C", res.Papers[2].Title)
		assert.Equal(t, []string{"high", "low"}, res.SuccessfulProviders)
		assert.Equal(t, 2, res.BySource["high"])
	})

	t.Run("drops records without doi or title", func(t *testing.T) {
		// A scraped page can produce a PDF link with no identity at all.
		scraper := &mockProvider{name: "scraper", priority: 90, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
			return &providers.Result{
				Source: "scraper",
				Papers: []domain.PaperRecord{
					{PDFURL: "https://mirror.example/paper.pdf"},
					{DOI: "10.1/kept", Title: "Kept"},
					{Title: "   "},
				},
			}, nil
		}}

		e := newTestExecutor(Config{DedupEnabled: true}, scraper)
		res, err := e.Search(ctx, domain.SearchQuery{Query: "test"})
		require.NoError(t, err)

		require.Len(t, res.Papers, 1)
		assert.Equal(t, "10.1/kept", res.Papers[0].DOI)
		assert.Equal(t, 1, res.BySource["scraper"])
	})

	t.Run("partial failure keeps the rest", func(t *testing.T) {
		ok := &mockProvider{name: "ok", priority: 50, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
			return papersResult("ok", "Survivor"), nil
		}}
		broken := &mockProvider{name: "broken", priority: 90, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
			return nil, domain.NewError(domain.KindServiceUnavailable, "broken", "down")
		}}

		e := newTestExecutor(Config{}, ok, broken)
		res, err := e.Search(ctx, domain.SearchQuery{Query: "test"})
		require.NoError(t, err)

		require.Len(t, res.Papers, 1)
		assert.Equal(t, []string{"broken"}, res.FailedProviders)
		assert.Contains(t, res.ProviderErrors["broken"], "down")
	})

	t.Run("search logs carry query and provider fields", func(t *testing.T) {
		var buf bytes.Buffer
		flaky := &mockProvider{name: "flaky", priority: 50, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
			return nil, domain.NewError(domain.KindServiceUnavailable, "flaky", "down")
		}}
		limiters := resilience.NewLimiterRegistry(nil, resilience.LimiterConfig{RatePerSecond: 1000})
		breakers := resilience.NewBreakerRegistry(nil, resilience.BreakerConfig{FailureThreshold: 100})
		e := New([]providers.Provider{flaky}, limiters, breakers, singleAttemptPolicy(), Config{}, nil, zerolog.New(&buf))

		_, err := e.Search(ctx, domain.SearchQuery{Query: "attention"})
		require.NoError(t, err)

		logs := buf.String()
		assert.Contains(t, logs, `"query":"attention"`)
		assert.Contains(t, logs, `"search_type":"`)
		assert.Contains(t, logs, `"provider":"flaky"`)
	})

	t.Run("invalid query errors", func(t *testing.T) {
		e := newTestExecutor(Config{}, &mockProvider{name: "p", priority: 50})
		_, err := e.Search(ctx, domain.SearchQuery{Query: "  "})
		require.Error(t, err)
		assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	})

	t.Run("no eligible provider errors", func(t *testing.T) {
		doiOnly := &mockProvider{name: "p", priority: 50, types: []domain.SearchType{domain.SearchTypeDOI}}
		e := newTestExecutor(Config{}, doiOnly)
		_, err := e.Search(ctx, domain.SearchQuery{Query: "cats", Type: domain.SearchTypeAuthor})
		require.Error(t, err)
		assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	})

	t.Run("all providers failing still returns a result", func(t *testing.T) {
		a := &mockProvider{name: "a", priority: 50, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
			return nil, domain.NewError(domain.KindInternalServer, "a", "boom")
		}}
		b := &mockProvider{name: "b", priority: 40, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
			return nil, domain.NewError(domain.KindNetworkTimeout, "b", "slow")
		}}

		e := newTestExecutor(Config{}, a, b)
		res, err := e.Search(ctx, domain.SearchQuery{Query: "test"})
		require.NoError(t, err)
		assert.Empty(t, res.Papers)
		assert.Len(t, res.FailedProviders, 2)
	})

	t.Run("parallelism is capped", func(t *testing.T) {
		var inFlight, peak atomic.Int64
		mk := func(name string) *mockProvider {
			return &mockProvider{name: name, priority: 50, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
				cur := inFlight.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return papersResult(name), nil
			}}
		}

		e := newTestExecutor(Config{MaxParallelProviders: 2}, mk("a"), mk("b"), mk("c"), mk("d"))
		_, err := e.Search(ctx, domain.SearchQuery{Query: "test"})
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int64(2))
	})

	t.Run("open breaker short-circuits the provider", func(t *testing.T) {
		flaky := &mockProvider{name: "flaky", priority: 50, searchFn: func(context.Context, domain.SearchQuery) (*providers.Result, error) {
			return nil, domain.NewError(domain.KindServiceUnavailable, "flaky", "down")
		}}

		limiters := resilience.NewLimiterRegistry(nil, resilience.LimiterConfig{RatePerSecond: 1000})
		breakers := resilience.NewBreakerRegistry(nil, resilience.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})
		e := New([]providers.Provider{flaky}, limiters, breakers, singleAttemptPolicy(), Config{}, nil, zerolog.Nop())

		for i := 0; i < 3; i++ {
			_, _ = e.Search(ctx, domain.SearchQuery{Query: "test"})
		}
		assert.Equal(t, resilience.CircuitOpen, breakers.State("flaky"))

		// Circuit open: the provider is no longer invoked.
		before := flaky.searchCalls.Load()
		res, err := e.Search(ctx, domain.SearchQuery{Query: "test"})
		require.NoError(t, err)
		assert.Equal(t, before, flaky.searchCalls.Load())
		assert.Contains(t, res.ProviderErrors["flaky"], "circuit open")
	})
}

func TestExecutor_GetByDOI(t *testing.T) {
	ctx := context.Background()

	t.Run("first provider with the record wins", func(t *testing.T) {
		miss := &mockProvider{name: "miss", priority: 90, getByDOIFn: func(context.Context, string) (*domain.PaperRecord, error) {
			return nil, domain.NewError(domain.KindInternalServer, "miss", "boom")
		}}
		hit := &mockProvider{name: "hit", priority: 50, getByDOIFn: func(_ context.Context, doi string) (*domain.PaperRecord, error) {
			return &domain.PaperRecord{DOI: doi, Title: "Found"}, nil
		}}

		e := newTestExecutor(Config{}, miss, hit)
		rec, err := e.GetByDOI(ctx, "10.1000/xyz")
		require.NoError(t, err)
		assert.Equal(t, "Found", rec.Title)
	})

	t.Run("all providers failing returns the last error", func(t *testing.T) {
		bad := &mockProvider{name: "bad", priority: 50, getByDOIFn: func(context.Context, string) (*domain.PaperRecord, error) {
			return nil, domain.NewError(domain.KindServiceUnavailable, "bad", "down")
		}}
		e := newTestExecutor(Config{}, bad)
		_, err := e.GetByDOI(ctx, "10.1000/xyz")
		require.Error(t, err)
		assert.Equal(t, domain.KindServiceUnavailable, domain.KindOf(err))
	})
}

func TestExecutor_ResolvePDFURL(t *testing.T) {
	ctx := context.Background()

	t.Run("cascades to the first provider with a url", func(t *testing.T) {
		empty := &mockProvider{name: "empty", priority: 90, fulltext: true, getByDOIFn: func(context.Context, string) (*domain.PaperRecord, error) {
			return &domain.PaperRecord{Title: "No PDF"}, nil
		}}
		direct := &mockResolver{
			mockProvider: mockProvider{name: "direct", priority: 50, fulltext: true},
			pdfFn: func(_ context.Context, doi string) (string, error) {
				return "https://pdf.example/" + doi, nil
			},
		}
		metadataOnly := &mockProvider{name: "meta", priority: 70, fulltext: false}

		e := newTestExecutor(Config{}, empty, direct, metadataOnly)
		u, err := e.ResolvePDFURL(ctx, "10.1/x")
		require.NoError(t, err)
		assert.Equal(t, "https://pdf.example/10.1/x", u)
	})

	t.Run("exhausted cascade returns last transient error", func(t *testing.T) {
		failing := &mockResolver{
			mockProvider: mockProvider{name: "failing", priority: 50, fulltext: true},
			pdfFn: func(context.Context, string) (string, error) {
				return "", domain.NewError(domain.KindNetworkTimeout, "failing", "slow")
			},
		}
		e := newTestExecutor(Config{}, failing)
		_, err := e.ResolvePDFURL(ctx, "10.1/x")
		require.Error(t, err)
		assert.Equal(t, domain.KindNetworkTimeout, domain.KindOf(err))
	})

	t.Run("clean misses yield service unavailable", func(t *testing.T) {
		missing := &mockResolver{
			mockProvider: mockProvider{name: "missing", priority: 50, fulltext: true},
			pdfFn: func(context.Context, string) (string, error) {
				return "", domain.WrapError(domain.KindParse, "missing", domain.ErrNotFound)
			},
		}
		e := newTestExecutor(Config{}, missing)
		_, err := e.ResolvePDFURL(ctx, "10.1/x")
		require.Error(t, err)
		assert.Equal(t, domain.KindServiceUnavailable, domain.KindOf(err))
	})
}

func TestDeduplicate(t *testing.T) {
	t.Run("doi match wins over distinct titles", func(t *testing.T) {
		in := []domain.PaperRecord{
			{DOI: "10.1/a", Title: "Version One"},
			{DOI: "10.1/a", Title: "Version Two (Preprint)"},
			{DOI: "10.1/b", Title: "Other"},
		}
		out := Deduplicate(in)
		require.Len(t, out, 2)
		assert.Equal(t, "Version One", out[0].Title)
	})

	t.Run("title match ignores case and whitespace", func(t *testing.T) {
		in := []domain.PaperRecord{
			{Title: "Deep Learning"},
			{Title: "deep  learning"},
			{Title: "DEEP\tLEARNING"},
		}
		out := Deduplicate(in)
		assert.Len(t, out, 1)
	})

	t.Run("distinct dois with same title deduplicate by title", func(t *testing.T) {
		in := []domain.PaperRecord{
			{DOI: "10.1/a", Title: "Same Paper"},
			{DOI: "10.2/b", Title: "Same Paper"},
		}
		out := Deduplicate(in)
		require.Len(t, out, 1)
		assert.Equal(t, "10.1/a", out[0].DOI)
	})

	t.Run("duplicate donates its pdf url", func(t *testing.T) {
		in := []domain.PaperRecord{
			{DOI: "10.1/a", Title: "Paper"},
			{DOI: "10.1/a", Title: "Paper", PDFURL: "https://pdf.example/a.pdf"},
		}
		out := Deduplicate(in)
		require.Len(t, out, 1)
		assert.Equal(t, "https://pdf.example/a.pdf", out[0].PDFURL)
	})

	t.Run("empty identities never collide", func(t *testing.T) {
		in := []domain.PaperRecord{
			{Authors: []string{"A"}},
			{Authors: []string{"B"}},
		}
		out := Deduplicate(in)
		assert.Len(t, out, 2)
	})
}
