// Package providers defines the interface that all upstream paper providers
// implement, plus the shared HTTP plumbing they are built on.
//
// Each upstream (arXiv, CrossRef, Sci-Hub mirrors) implements the Provider
// interface so the meta-search executor can fan a query out across
// heterogeneous APIs and merge the results into one unified shape.
//
// Example usage:
//
//	p := arxiv.New(cfg, httpClient)
//	result, err := p.Search(ctx, domain.SearchQuery{Query: "transformer models"}, sctx)
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/helixir/paper-retrieval-service/internal/domain"
)

// SearchContext carries per-request knobs that cut across providers.
type SearchContext struct {
	// Timeout bounds the provider call. Zero means the caller's context
	// deadline applies unchanged.
	Timeout time.Duration

	// UserAgent overrides the provider's default User-Agent when non-empty.
	UserAgent string

	// Headers are extra headers merged into outgoing requests.
	Headers map[string]string
}

// Result contains the outcome of one provider search.
type Result struct {
	// Papers are the matching records, already mapped to the unified shape.
	Papers []domain.PaperRecord

	// Source names the provider that produced the results.
	Source string

	// TotalAvailable is the upstream's total hit count when reported, which
	// may exceed len(Papers). Zero when the upstream does not report it.
	TotalAvailable int

	// HasMore indicates that more results exist beyond this page.
	HasMore bool

	// SearchTime is the wall time of the upstream call.
	SearchTime time.Duration

	// Metadata carries provider-specific annotations, such as the mirror
	// that served a scraped result.
	Metadata map[string]string
}

// Provider is implemented by every upstream paper source.
type Provider interface {
	// Name returns the stable identifier used for rate limiters, circuit
	// breakers, logging, and result attribution.
	Name() string

	// Description returns a human-readable summary of the upstream.
	Description() string

	// SupportedSearchTypes lists the query types the upstream can serve.
	SupportedSearchTypes() []domain.SearchType

	// SupportsFullText reports whether the provider can yield PDF URLs.
	SupportsFullText() bool

	// Priority orders providers for aggregation and fallback, higher first.
	// Values range over [0, 100].
	Priority() int

	// BaseDelay is the polite minimum spacing between requests to this
	// upstream, used to derive its rate limit.
	BaseDelay() time.Duration

	// Search queries the upstream.
	Search(ctx context.Context, query domain.SearchQuery, sctx SearchContext) (*Result, error)

	// GetByDOI retrieves a single paper by DOI. Implementations return
	// domain.ErrNotFound (wrapped) when the upstream has no such record.
	GetByDOI(ctx context.Context, doi string, sctx SearchContext) (*domain.PaperRecord, error)

	// HealthCheck probes the upstream with a minimal request.
	HealthCheck(ctx context.Context) error
}

// PDFResolver is implemented by providers that can resolve a DOI directly to
// a downloadable PDF URL. The cascade resolver type-asserts for it.
type PDFResolver interface {
	GetPDFURL(ctx context.Context, doi string, sctx SearchContext) (string, error)
}

// SupportsSearchType reports whether p accepts the given query type. Auto
// is accepted by every provider; the executor narrows it before dispatch.
func SupportsSearchType(p Provider, st domain.SearchType) bool {
	if st == domain.SearchTypeAuto {
		return true
	}
	for _, s := range p.SupportedSearchTypes() {
		if s == st {
			return true
		}
	}
	return false
}

// GetByDOIViaSearch is the default GetByDOI for providers whose upstream has
// no dedicated DOI endpoint: it runs a DOI search and returns the first
// record.
func GetByDOIViaSearch(ctx context.Context, p Provider, doi string, sctx SearchContext) (*domain.PaperRecord, error) {
	res, err := p.Search(ctx, domain.SearchQuery{
		Query:      doi,
		Type:       domain.SearchTypeDOI,
		MaxResults: 1,
	}, sctx)
	if err != nil {
		return nil, err
	}
	if len(res.Papers) == 0 {
		return nil, fmt.Errorf("%s: paper %s: %w", p.Name(), doi, domain.ErrNotFound)
	}
	return &res.Papers[0], nil
}
