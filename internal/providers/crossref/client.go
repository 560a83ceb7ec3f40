// Package crossref implements the providers.Provider interface for the
// CrossRef DOI metadata registry, which serves JSON over HTTP.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-retrieval-service/internal/domain"
	"github.com/helixir/paper-retrieval-service/internal/providers"
)

const (
	// DefaultBaseURL is the default CrossRef REST API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultMaxResults is the default maximum results per search request.
	DefaultMaxResults = 100

	sourceName = "crossref"
)

// Config holds configuration for the CrossRef client.
type Config struct {
	// BaseURL is the CrossRef REST API base URL.
	BaseURL string

	// MaxResults caps results per search request.
	MaxResults int

	// Mailto is appended to queries per CrossRef's polite-pool etiquette.
	Mailto string

	// Priority orders this provider for aggregation, higher first.
	Priority int

	// BaseDelay is the polite spacing between requests.
	BaseDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.Priority == 0 {
		c.Priority = 70
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
}

// Client implements the providers.Provider interface for CrossRef.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

var _ providers.Provider = (*Client)(nil)

// New creates a new CrossRef client.
func New(cfg Config, httpClient *providers.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Name returns the stable provider identifier.
func (c *Client) Name() string { return sourceName }

// Description returns a human-readable summary of the upstream.
func (c *Client) Description() string {
	return "CrossRef DOI metadata registry (JSON REST API)"
}

// SupportedSearchTypes lists the query types CrossRef can serve.
func (c *Client) SupportedSearchTypes() []domain.SearchType {
	return []domain.SearchType{
		domain.SearchTypeDOI,
		domain.SearchTypeTitle,
		domain.SearchTypeAuthor,
		domain.SearchTypeKeywords,
	}
}

// SupportsFullText reports that CrossRef serves metadata only.
func (c *Client) SupportsFullText() bool { return false }

// Priority orders this provider for aggregation.
func (c *Client) Priority() int { return c.config.Priority }

// BaseDelay is the polite spacing between requests to CrossRef.
func (c *Client) BaseDelay() time.Duration { return c.config.BaseDelay }

// Search queries CrossRef for works matching the given query.
func (c *Client) Search(ctx context.Context, query domain.SearchQuery, sctx providers.SearchContext) (*providers.Result, error) {
	startTime := time.Now()

	if query.Type == domain.SearchTypeDOI {
		rec, err := c.GetByDOI(ctx, query.Query, sctx)
		if err != nil {
			return nil, err
		}
		return &providers.Result{
			Papers:         []domain.PaperRecord{*rec},
			Source:         sourceName,
			TotalAvailable: 1,
			SearchTime:     time.Since(startTime),
		}, nil
	}

	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, domain.WrapError(domain.KindConfig, sourceName, err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/works"

	maxResults := query.MaxResults
	if maxResults == 0 || maxResults > c.config.MaxResults {
		maxResults = c.config.MaxResults
	}

	q := url.Values{}
	switch query.Type {
	case domain.SearchTypeTitle:
		q.Set("query.title", query.Query)
	case domain.SearchTypeAuthor:
		q.Set("query.author", query.Query)
	default:
		q.Set("query", query.Query)
	}
	q.Set("rows", strconv.Itoa(maxResults))
	if query.Offset > 0 {
		q.Set("offset", strconv.Itoa(query.Offset))
	}
	if c.config.Mailto != "" {
		q.Set("mailto", c.config.Mailto)
	}
	base.RawQuery = q.Encode()

	var sr searchResponse
	if err := c.getJSON(ctx, base.String(), sctx, &sr); err != nil {
		return nil, err
	}

	papers := make([]domain.PaperRecord, 0, len(sr.Message.Items))
	for i := range sr.Message.Items {
		if rec, ok := workToRecord(&sr.Message.Items[i]); ok {
			papers = append(papers, rec)
		}
	}

	return &providers.Result{
		Papers:         papers,
		Source:         sourceName,
		TotalAvailable: sr.Message.TotalResults,
		HasMore:        query.Offset+len(papers) < sr.Message.TotalResults,
		SearchTime:     time.Since(startTime),
	}, nil
}

// GetByDOI retrieves a single work through the dedicated DOI endpoint.
func (c *Client) GetByDOI(ctx context.Context, doi string, sctx providers.SearchContext) (*domain.PaperRecord, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, domain.WrapError(domain.KindConfig, sourceName, err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/works/" + doi

	var wr workResponse
	if err := c.getJSON(ctx, base.String(), sctx, &wr); err != nil {
		return nil, err
	}
	rec, ok := workToRecord(&wr.Message)
	if !ok {
		return nil, fmt.Errorf("%s: paper %s: %w", sourceName, doi, domain.ErrNotFound)
	}
	return &rec, nil
}

// HealthCheck probes the API with a minimal single-row query.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Search(ctx, domain.SearchQuery{
		Query:      "science",
		Type:       domain.SearchTypeKeywords,
		MaxResults: 1,
	}, providers.SearchContext{})
	return err
}

func (c *Client) getJSON(ctx context.Context, reqURL string, sctx providers.SearchContext, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.WrapError(domain.KindInvalidInput, sourceName, err)
	}
	req.Header.Set("Accept", "application/json")
	if sctx.UserAgent != "" {
		req.Header.Set("User-Agent", sctx.UserAgent)
	}
	for k, v := range sctx.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req, sourceName)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck
		return fmt.Errorf("%s: %w", sourceName, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck
		return providers.ClassifyStatus(sourceName, resp)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(out); err != nil {
		return domain.WrapError(domain.KindParse, sourceName, err)
	}
	return nil
}

// workToRecord converts a CrossRef work to the unified record shape. CrossRef
// never yields a PDF URL; it is metadata only.
func workToRecord(w *Work) (domain.PaperRecord, bool) {
	title := ""
	if len(w.Title) > 0 {
		title = strings.Join(strings.Fields(w.Title[0]), " ")
	}
	doi := strings.TrimSpace(w.DOI)
	if title == "" && doi == "" {
		return domain.PaperRecord{}, false
	}

	authors := make([]string, 0, len(w.Author))
	for _, a := range w.Author {
		name := strings.TrimSpace(strings.TrimSpace(a.Given) + " " + strings.TrimSpace(a.Family))
		if name != "" {
			authors = append(authors, name)
		}
	}

	journal := ""
	if len(w.ContainerTitle) > 0 {
		journal = w.ContainerTitle[0]
	}

	return domain.PaperRecord{
		DOI:      doi,
		Title:    title,
		Authors:  authors,
		Journal:  journal,
		Year:     w.Issued.Year(),
		Abstract: stripJATS(w.Abstract),
	}, true
}

// stripJATS removes the JATS XML tags CrossRef embeds in abstracts.
func stripJATS(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
