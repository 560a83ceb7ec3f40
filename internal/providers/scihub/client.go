// Package scihub implements the providers.Provider interface for a pool of
// HTML-scraped fulltext mirrors. There is no API: each lookup fetches a page
// and pulls the PDF link and citation metadata out of the markup.
package scihub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-retrieval-service/internal/domain"
	"github.com/helixir/paper-retrieval-service/internal/mirror"
	"github.com/helixir/paper-retrieval-service/internal/providers"
)

const sourceName = "scihub"

// userAgents is rotated across requests so the pool sees browser-like
// traffic instead of one repeating signature.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// pdfSelectors find the PDF reference in priority order.
var pdfSelectors = []string{
	`a[href$='.pdf']`,
	`iframe[src*='.pdf']`,
	`embed[src*='.pdf']`,
}

// titleSelectors find the paper title in priority order.
var titleSelectors = []string{
	"h1",
	"#title",
	".title",
	"title",
	`meta[name='citation_title']`,
	`meta[property='og:title']`,
}

// authorSelectors find author names in priority order.
var authorSelectors = []string{
	`meta[name='citation_author']`,
	`meta[name='author']`,
	".authors",
	".author",
}

// Config holds configuration for the scraped-mirror client.
type Config struct {
	// Priority orders this provider for aggregation, higher first.
	Priority int

	// BaseDelay is the polite spacing between requests.
	BaseDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Priority == 0 {
		c.Priority = 30
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 2 * time.Second
	}
}

// Client implements the providers.Provider interface over a mirror pool.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
	mirrors    *mirror.Manager
	log        zerolog.Logger
	uaCounter  atomic.Uint64
}

var (
	_ providers.Provider    = (*Client)(nil)
	_ providers.PDFResolver = (*Client)(nil)
)

// New creates a new scraped-mirror client over the given pool.
func New(cfg Config, httpClient *providers.HTTPClient, mirrors *mirror.Manager, log zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		mirrors:    mirrors,
		log:        log.With().Str("provider", sourceName).Logger(),
	}
}

// Name returns the stable provider identifier.
func (c *Client) Name() string { return sourceName }

// Description returns a human-readable summary of the upstream.
func (c *Client) Description() string {
	return "HTML-scraped fulltext mirror pool"
}

// SupportedSearchTypes lists the lookups the mirrors can serve. The pool is
// a resolver, not a search engine: only direct identifier lookups work.
func (c *Client) SupportedSearchTypes() []domain.SearchType {
	return []domain.SearchType{domain.SearchTypeDOI, domain.SearchTypeTitle}
}

// SupportsFullText reports that the mirrors exist to serve PDFs.
func (c *Client) SupportsFullText() bool { return true }

// Priority orders this provider for aggregation.
func (c *Client) Priority() int { return c.config.Priority }

// BaseDelay is the polite spacing between requests to the pool.
func (c *Client) BaseDelay() time.Duration { return c.config.BaseDelay }

// Search resolves a single identifier against the best available mirror.
// An empty result with found=false metadata means the mirror answered but
// had no PDF for the paper.
func (c *Client) Search(ctx context.Context, query domain.SearchQuery, sctx providers.SearchContext) (*providers.Result, error) {
	startTime := time.Now()

	mirrorURL, err := c.mirrors.Next()
	if err != nil {
		return nil, err
	}

	page, err := c.fetchPage(ctx, mirrorURL, query.Query, sctx)
	if err != nil {
		c.mirrors.MarkFailed(mirrorURL)
		return nil, err
	}
	c.mirrors.MarkSuccess(mirrorURL, time.Since(startTime))

	rec, found := c.parsePage(page, mirrorURL, query.Query)

	res := &providers.Result{
		Source:     sourceName,
		SearchTime: time.Since(startTime),
		Metadata: map[string]string{
			"mirror": mirrorURL,
			"found":  fmt.Sprintf("%t", found),
		},
	}
	if found {
		res.Papers = []domain.PaperRecord{rec}
		res.TotalAvailable = 1
	}
	return res, nil
}

// GetByDOI resolves a DOI against the pool.
func (c *Client) GetByDOI(ctx context.Context, doi string, sctx providers.SearchContext) (*domain.PaperRecord, error) {
	return providers.GetByDOIViaSearch(ctx, c, doi, sctx)
}

// GetPDFURL resolves a DOI straight to its PDF URL.
func (c *Client) GetPDFURL(ctx context.Context, doi string, sctx providers.SearchContext) (string, error) {
	res, err := c.Search(ctx, domain.SearchQuery{Query: doi, Type: domain.SearchTypeDOI}, sctx)
	if err != nil {
		return "", err
	}
	if len(res.Papers) == 0 || res.Papers[0].PDFURL == "" {
		return "", fmt.Errorf("%s: no pdf for %s: %w", sourceName, doi, domain.ErrNotFound)
	}
	return res.Papers[0].PDFURL, nil
}

// HealthCheck probes the current best mirror with a HEAD request.
func (c *Client) HealthCheck(ctx context.Context) error {
	mirrorURL, err := c.mirrors.Next()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, mirrorURL, nil)
	if err != nil {
		return domain.WrapError(domain.KindInvalidInput, sourceName, err)
	}
	resp, err := c.httpClient.Do(req, sourceName)
	if err != nil {
		c.mirrors.MarkFailed(mirrorURL)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		c.mirrors.MarkFailed(mirrorURL)
		return providers.ClassifyStatus(sourceName, resp)
	}
	return nil
}

func (c *Client) fetchPage(ctx context.Context, mirrorURL, identifier string, sctx providers.SearchContext) (*goquery.Document, error) {
	pageURL := strings.TrimRight(mirrorURL, "/") + "/" + url.PathEscape(identifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, domain.WrapError(domain.KindInvalidInput, sourceName, err)
	}

	ua := sctx.UserAgent
	if ua == "" {
		ua = c.nextUserAgent()
	}
	req.Header.Set("User-Agent", ua)
	// Accept-Encoding and Connection stay unset: the transport negotiates
	// gzip and keep-alive itself, and setting Accept-Encoding manually
	// turns off its transparent decompression.
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
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

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, domain.WrapError(domain.KindParse, sourceName, err)
	}
	return doc, nil
}

// nextUserAgent rotates through the browser signatures.
func (c *Client) nextUserAgent() string {
	n := c.uaCounter.Add(1)
	return userAgents[(n-1)%uint64(len(userAgents))]
}

// parsePage extracts the PDF link and citation metadata from a mirror page.
func (c *Client) parsePage(doc *goquery.Document, mirrorURL, identifier string) (domain.PaperRecord, bool) {
	pdfURL := ""
	for _, sel := range pdfSelectors {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			attr := "href"
			if goquery.NodeName(s) != "a" {
				attr = "src"
			}
			if v, ok := s.Attr(attr); ok && v != "" {
				pdfURL = absoluteURL(mirrorURL, v)
				return false
			}
			return true
		})
		if pdfURL != "" {
			break
		}
	}
	if pdfURL == "" {
		c.log.Debug().Str("identifier", identifier).Str("mirror", mirrorURL).Msg("no pdf reference on page")
		return domain.PaperRecord{}, false
	}

	rec := domain.PaperRecord{PDFURL: pdfURL}
	if doi, err := domain.ParseDOI(identifier); err == nil {
		rec.DOI = doi
	}

	for _, sel := range titleSelectors {
		if title := textOrContent(doc, sel); title != "" {
			rec.Title = title
			break
		}
	}
	for _, sel := range authorSelectors {
		authors := selectAuthors(doc, sel)
		if len(authors) > 0 {
			rec.Authors = authors
			break
		}
	}
	return rec, true
}

// textOrContent reads a selector's text, or its content attribute for meta
// tags, whitespace-collapsed.
func textOrContent(doc *goquery.Document, sel string) string {
	s := doc.Find(sel).First()
	if s.Length() == 0 {
		return ""
	}
	v := s.Text()
	if strings.HasPrefix(sel, "meta") {
		v, _ = s.Attr("content")
	}
	return strings.Join(strings.Fields(v), " ")
}

func selectAuthors(doc *goquery.Document, sel string) []string {
	var out []string
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		v := s.Text()
		if strings.HasPrefix(sel, "meta") {
			v, _ = s.Attr("content")
		}
		// Visible author blocks often pack every name into one node.
		for _, part := range strings.Split(v, ";") {
			if name := strings.Join(strings.Fields(part), " "); name != "" {
				out = append(out, name)
			}
		}
	})
	return out
}

// absoluteURL resolves scraped links: scheme-relative links get https, and
// path-relative links resolve against the mirror.
func absoluteURL(mirrorURL, link string) string {
	link = strings.TrimSpace(link)
	switch {
	case strings.HasPrefix(link, "//"):
		return "https:" + link
	case strings.HasPrefix(link, "http://"), strings.HasPrefix(link, "https://"):
		return link
	default:
		base, err := url.Parse(mirrorURL)
		if err != nil {
			return link
		}
		ref, err := url.Parse(link)
		if err != nil {
			return link
		}
		return base.ResolveReference(ref).String()
	}
}
