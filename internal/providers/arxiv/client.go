// Package arxiv implements the providers.Provider interface for the arXiv
// preprint index, which serves Atom XML over HTTP.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-retrieval-service/internal/domain"
	"github.com/helixir/paper-retrieval-service/internal/providers"
)

const (
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultMaxResults is the default maximum results per search request.
	DefaultMaxResults = 100

	sourceName = "arxiv"
)

// arxivIDRegex extracts the arXiv ID from the entry URL, stripping any
// trailing version suffix.
var arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// Config holds configuration for the arXiv client.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

	// MaxResults caps results per search request.
	MaxResults int

	// Priority orders this provider for aggregation, higher first.
	Priority int

	// BaseDelay is the polite spacing between requests.
	BaseDelay time.Duration
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.Priority == 0 {
		c.Priority = 80
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 3 * time.Second
	}
}

// Client implements the providers.Provider interface for arXiv.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

// Ensure Client implements the Provider interface.
var _ providers.Provider = (*Client)(nil)

// New creates a new arXiv client.
func New(cfg Config, httpClient *providers.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Name returns the stable provider identifier.
func (c *Client) Name() string { return sourceName }

// Description returns a human-readable summary of the upstream.
func (c *Client) Description() string {
	return "arXiv preprint index (Atom XML API)"
}

// SupportedSearchTypes lists the query types arXiv can serve.
func (c *Client) SupportedSearchTypes() []domain.SearchType {
	return []domain.SearchType{
		domain.SearchTypeDOI,
		domain.SearchTypeTitle,
		domain.SearchTypeAuthor,
		domain.SearchTypeKeywords,
		domain.SearchTypeSubject,
	}
}

// SupportsFullText reports that arXiv serves PDFs directly.
func (c *Client) SupportsFullText() bool { return true }

// Priority orders this provider for aggregation.
func (c *Client) Priority() int { return c.config.Priority }

// BaseDelay is the polite spacing between requests to arXiv.
func (c *Client) BaseDelay() time.Duration { return c.config.BaseDelay }

// Search queries arXiv for papers matching the given query.
func (c *Client) Search(ctx context.Context, query domain.SearchQuery, sctx providers.SearchContext) (*providers.Result, error) {
	startTime := time.Now()

	searchURL, err := c.buildSearchURL(query)
	if err != nil {
		return nil, err
	}

	feed, err := c.fetchFeed(ctx, searchURL, sctx)
	if err != nil {
		return nil, err
	}

	papers := make([]domain.PaperRecord, 0, len(feed.Entries))
	for i := range feed.Entries {
		if rec, ok := entryToRecord(&feed.Entries[i]); ok {
			papers = append(papers, rec)
		}
	}

	return &providers.Result{
		Papers:         papers,
		Source:         sourceName,
		TotalAvailable: feed.TotalResults,
		HasMore:        query.Offset+len(papers) < feed.TotalResults,
		SearchTime:     time.Since(startTime),
	}, nil
}

// GetByDOI retrieves a paper by DOI or arXiv-style identifier.
func (c *Client) GetByDOI(ctx context.Context, doi string, sctx providers.SearchContext) (*domain.PaperRecord, error) {
	// arXiv-native identifiers go through the id_list endpoint; real DOIs
	// fall back to a DOI field search.
	if id, ok := strings.CutPrefix(doi, "arXiv:"); ok {
		base, err := url.Parse(c.config.BaseURL)
		if err != nil {
			return nil, domain.WrapError(domain.KindConfig, sourceName, err)
		}
		base.Path = strings.TrimRight(base.Path, "/") + "/query"
		q := url.Values{}
		q.Set("id_list", id)
		base.RawQuery = q.Encode()

		feed, err := c.fetchFeed(ctx, base.String(), sctx)
		if err != nil {
			return nil, err
		}
		for i := range feed.Entries {
			if rec, ok := entryToRecord(&feed.Entries[i]); ok {
				return &rec, nil
			}
		}
		return nil, fmt.Errorf("%s: paper %s: %w", sourceName, doi, domain.ErrNotFound)
	}

	return providers.GetByDOIViaSearch(ctx, c, doi, sctx)
}

// HealthCheck probes the API with a minimal single-result query.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Search(ctx, domain.SearchQuery{
		Query:      "electron",
		Type:       domain.SearchTypeKeywords,
		MaxResults: 1,
	}, providers.SearchContext{})
	return err
}

func (c *Client) fetchFeed(ctx context.Context, searchURL string, sctx providers.SearchContext) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, domain.WrapError(domain.KindInvalidInput, sourceName, err)
	}
	if sctx.UserAgent != "" {
		req.Header.Set("User-Agent", sctx.UserAgent)
	}
	for k, v := range sctx.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req, sourceName)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck
		return nil, providers.ClassifyStatus(sourceName, resp)
	}

	// Limit body to 10MB.
	var feed Feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&feed); err != nil {
		return nil, domain.WrapError(domain.KindParse, sourceName, err)
	}
	return &feed, nil
}

// buildSearchURL constructs the arXiv search API URL. The field prefix
// follows the query type; results sort by relevance.
func (c *Client) buildSearchURL(query domain.SearchQuery) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", domain.WrapError(domain.KindConfig, sourceName, err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/query"

	var searchQuery string
	switch query.Type {
	case domain.SearchTypeTitle:
		searchQuery = fmt.Sprintf("ti:%q", query.Query)
	case domain.SearchTypeAuthor:
		searchQuery = fmt.Sprintf("au:%q", query.Query)
	case domain.SearchTypeSubject:
		searchQuery = "cat:" + query.Query
	case domain.SearchTypeDOI:
		searchQuery = "doi:" + query.Query
	default:
		searchQuery = fmt.Sprintf("all:%q", query.Query)
	}

	maxResults := query.MaxResults
	if maxResults == 0 || maxResults > c.config.MaxResults {
		maxResults = c.config.MaxResults
	}

	q := url.Values{}
	q.Set("search_query", searchQuery)
	q.Set("max_results", strconv.Itoa(maxResults))
	if query.Offset > 0 {
		q.Set("start", strconv.Itoa(query.Offset))
	}
	q.Set("sortBy", "relevance")
	q.Set("sortOrder", "descending")

	base.RawQuery = q.Encode()
	return base.String(), nil
}

// entryToRecord converts an arXiv Atom entry to the unified record shape.
// Entries without a usable title are dropped.
func entryToRecord(entry *Entry) (domain.PaperRecord, bool) {
	title := normalizeWhitespace(entry.Title)
	if title == "" {
		return domain.PaperRecord{}, false
	}

	arxivID := extractArXivID(entry.ID)

	doi := strings.TrimSpace(entry.DOI)
	if doi == "" && arxivID != "" {
		// arXiv-native identifier stands in for a DOI so dedup and DOI
		// lookups have a stable key.
		doi = "arXiv:" + arxivID
	}

	var year int
	if len(entry.Published) >= 4 {
		year, _ = strconv.Atoi(entry.Published[:4])
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	pdfURL := ""
	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			pdfURL = link.Href
			break
		}
	}
	if pdfURL == "" && arxivID != "" {
		pdfURL = "https://arxiv.org/pdf/" + arxivID
	}

	return domain.PaperRecord{
		DOI:      doi,
		Title:    title,
		Authors:  authors,
		Journal:  normalizeWhitespace(entry.JournalRef),
		Year:     year,
		Abstract: normalizeWhitespace(entry.Summary),
		PDFURL:   pdfURL,
	}, true
}

// extractArXivID extracts the arXiv ID from the full entry URL.
// Input: "http://arxiv.org/abs/2301.12345v1" -> "2301.12345"
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(entryURL)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// normalizeWhitespace trims and collapses multiple whitespace characters.
// arXiv wraps titles and abstracts with newlines and leading spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
