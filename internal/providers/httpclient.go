package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/paper-retrieval-service/internal/domain"
)

// HTTPClientConfig configures the shared provider HTTP client.
type HTTPClientConfig struct {
	// Timeout is the overall request timeout.
	Timeout time.Duration

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// MaxRedirects caps redirect chains; scraped mirrors love to bounce.
	MaxRedirects int

	// UserAgent is the default User-Agent header.
	UserAgent string
}

func (c HTTPClientConfig) withDefaults() HTTPClientConfig {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = 10
	}
	if c.UserAgent == "" {
		c.UserAgent = "Helixir-PaperRetrieval/1.0"
	}
	return c
}

// HTTPClient wraps http.Client with default headers and error classification.
// Retrying is deliberately not done here: the resilience layer owns retries
// and circuit breaking, and a client that retried internally would multiply
// those attempts. It is safe for concurrent use.
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewHTTPClient creates the shared provider HTTP client.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	cfg = cfg.withDefaults()

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: 4,
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= cfg.MaxRedirects {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Do executes the request with default headers applied and transport errors
// classified into the domain taxonomy. A non-nil response always has an
// acceptable status per the source's ClassifyStatus; unacceptable statuses
// are drained, closed, and returned as typed errors.
func (c *HTTPClient) Do(req *http.Request, source string) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ClassifyTransportError(source, err)
	}
	return resp, nil
}

// Underlying exposes the raw http.Client for callers that stream bodies.
func (c *HTTPClient) Underlying() *http.Client {
	return c.client
}

// UserAgent returns the configured default User-Agent.
func (c *HTTPClient) UserAgent() string {
	return c.config.UserAgent
}

// ClassifyTransportError maps a transport-level failure onto a domain error
// kind. Order matters: a canceled context looks like a url.Error too.
func ClassifyTransportError(source string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.KindNetworkTimeout, source, err)
	case errors.Is(err, context.Canceled):
		return domain.WrapError(domain.KindNetworkTimeout, source, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.WrapError(domain.KindNetworkTimeout, source, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.WrapError(domain.KindDNSFailure, source, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return domain.WrapError(domain.KindConnectionRefused, source, err)
	}

	return domain.WrapError(domain.KindHTTPTransport, source, err)
}

// ClassifyStatus maps an unexpected HTTP status onto a domain error. Callers
// invoke it only for statuses they do not accept.
func ClassifyStatus(source string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return domain.NewRateLimitError(source, RetryAfterHeader(resp))
	case http.StatusServiceUnavailable:
		e := domain.NewError(domain.KindServiceUnavailable, source, "upstream unavailable")
		e.StatusCode = resp.StatusCode
		e.RetryAfter = RetryAfterHeader(resp)
		return e
	case http.StatusUnauthorized, http.StatusForbidden:
		if resp.StatusCode == http.StatusUnauthorized {
			return domain.NewError(domain.KindAuth, source, "authentication rejected")
		}
		// 403 is kept as an upstream status so it classifies as transient:
		// scraped mirrors use it for soft blocks that clear on their own.
		return domain.NewUpstreamStatusError(source, resp.StatusCode, "access forbidden")
	default:
		if resp.StatusCode >= 500 {
			e := domain.NewError(domain.KindInternalServer, source, http.StatusText(resp.StatusCode))
			e.StatusCode = resp.StatusCode
			return e
		}
		return domain.NewUpstreamStatusError(source, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
}

// RetryAfterHeader parses a Retry-After header as delay seconds or an HTTP
// date. Zero when absent or unparseable.
func RetryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(v, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
