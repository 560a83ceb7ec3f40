package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error by its proximate cause. Every error produced by
// the retrieval pipeline carries exactly one Kind.
type Kind string

const (
	// KindInvalidInput indicates that caller-supplied input is invalid.
	KindInvalidInput Kind = "invalid_input"

	// KindConfig indicates invalid or missing configuration.
	KindConfig Kind = "config"

	// KindParse indicates that an upstream response could not be parsed.
	KindParse Kind = "parse"

	// KindAuth indicates an authentication or authorization failure upstream.
	KindAuth Kind = "auth"

	// KindSerialization indicates a JSON encode/decode failure.
	KindSerialization Kind = "serialization"

	// KindIO indicates a local filesystem failure.
	KindIO Kind = "io"

	// KindHTTPTransport indicates a generic HTTP transport failure.
	KindHTTPTransport Kind = "http_transport"

	// KindNetworkTimeout indicates that a network operation timed out.
	KindNetworkTimeout Kind = "network_timeout"

	// KindConnectionRefused indicates that an upstream refused the connection.
	KindConnectionRefused Kind = "connection_refused"

	// KindDNSFailure indicates a name resolution failure.
	KindDNSFailure Kind = "dns_failure"

	// KindServiceUnavailable indicates that an upstream reported itself down.
	KindServiceUnavailable Kind = "service_unavailable"

	// KindServiceOverloaded indicates that an upstream is shedding load.
	KindServiceOverloaded Kind = "service_overloaded"

	// KindInternalServer indicates a 5xx-class failure upstream.
	KindInternalServer Kind = "internal_server"

	// KindRateLimited indicates that an upstream throttled the request.
	KindRateLimited Kind = "rate_limited"

	// KindCircuitOpen indicates that a circuit breaker rejected the call.
	KindCircuitOpen Kind = "circuit_open"

	// KindUpstreamStatus indicates an unexpected upstream HTTP status; the
	// category depends on the status code.
	KindUpstreamStatus Kind = "upstream_status"
)

// Category groups error kinds by how callers should react to them.
type Category string

const (
	// CategoryPermanent marks errors that retrying cannot fix.
	CategoryPermanent Category = "permanent"

	// CategoryTransient marks errors expected to clear on their own.
	CategoryTransient Category = "transient"

	// CategoryRateLimited marks throttling errors with their own pacing rules.
	CategoryRateLimited Category = "rate_limited"

	// CategoryCircuitBreaker marks rejections by an open circuit.
	CategoryCircuitBreaker Category = "circuit_breaker"
)

// Error is the typed error carried through the retrieval pipeline.
type Error struct {
	Kind       Kind
	Source     string
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Source != "" && e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, e.Message)
	case e.Source != "":
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Category maps the error to its retry category. KindUpstreamStatus splits
// on the recorded status code: 429 is rate limited, 403 is treated as
// transient (often a soft block), other 4xx are permanent, 5xx transient.
func (e *Error) Category() Category {
	switch e.Kind {
	case KindInvalidInput, KindConfig, KindParse, KindAuth, KindSerialization:
		return CategoryPermanent
	case KindIO, KindHTTPTransport, KindNetworkTimeout, KindConnectionRefused, KindDNSFailure,
		KindServiceUnavailable, KindServiceOverloaded, KindInternalServer:
		return CategoryTransient
	case KindRateLimited:
		return CategoryRateLimited
	case KindCircuitOpen:
		return CategoryCircuitBreaker
	case KindUpstreamStatus:
		switch {
		case e.StatusCode == 429:
			return CategoryRateLimited
		case e.StatusCode == 403:
			return CategoryTransient
		case e.StatusCode >= 400 && e.StatusCode < 500:
			return CategoryPermanent
		default:
			return CategoryTransient
		}
	default:
		return CategoryPermanent
	}
}

// TriggersCircuitBreaker reports whether the error should count against a
// provider's circuit breaker. Only infrastructure-level failures qualify;
// caller mistakes and parse errors never open a circuit.
func (e *Error) TriggersCircuitBreaker() bool {
	switch e.Kind {
	case KindServiceUnavailable, KindInternalServer, KindServiceOverloaded,
		KindNetworkTimeout, KindConnectionRefused:
		return true
	case KindUpstreamStatus:
		return e.StatusCode == 503 || (e.StatusCode >= 500 && e.StatusCode < 600)
	default:
		return false
	}
}

// NewError creates a typed error with the given kind and message.
func NewError(kind Kind, source, message string) *Error {
	return &Error{Kind: kind, Source: source, Message: message}
}

// WrapError creates a typed error wrapping a cause.
func WrapError(kind Kind, source string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Source: source, Message: msg, Cause: cause}
}

// NewRateLimitError creates a rate-limit error with an optional retry hint.
func NewRateLimitError(source string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Source:     source,
		Message:    fmt.Sprintf("retry after %s", retryAfter),
		StatusCode: 429,
		RetryAfter: retryAfter,
	}
}

// NewUpstreamStatusError creates an error for an unexpected upstream status.
func NewUpstreamStatusError(source string, statusCode int, message string) *Error {
	return &Error{
		Kind:       KindUpstreamStatus,
		Source:     source,
		Message:    message,
		StatusCode: statusCode,
	}
}

// KindOf extracts the Kind from an error chain. Context cancellations and
// deadline expiries map to KindNetworkTimeout; anything untyped is reported
// as KindHTTPTransport so that unknown failures stay retryable.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetworkTimeout
	}
	return KindHTTPTransport
}

// CategoryOf extracts the Category from an error chain.
func CategoryOf(err error) Category {
	var de *Error
	if errors.As(err, &de) {
		return de.Category()
	}
	if errors.Is(err, ErrCircuitOpen) {
		return CategoryCircuitBreaker
	}
	return CategoryTransient
}

// RetryAfterOf extracts the upstream retry hint, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var de *Error
	if errors.As(err, &de) && de.RetryAfter > 0 {
		return de.RetryAfter, true
	}
	return 0, false
}

// Sentinel errors shared across packages.
var (
	// ErrCircuitOpen indicates that a circuit breaker rejected the call.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")
)
