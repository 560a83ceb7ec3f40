package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Category(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected Category
	}{
		{name: "invalid input is permanent", err: NewError(KindInvalidInput, "", "bad"), expected: CategoryPermanent},
		{name: "config is permanent", err: NewError(KindConfig, "", "bad"), expected: CategoryPermanent},
		{name: "parse is permanent", err: NewError(KindParse, "arxiv", "bad xml"), expected: CategoryPermanent},
		{name: "auth is permanent", err: NewError(KindAuth, "crossref", "denied"), expected: CategoryPermanent},
		{name: "serialization is permanent", err: NewError(KindSerialization, "", "bad json"), expected: CategoryPermanent},
		{name: "io is transient", err: NewError(KindIO, "", "stream interrupted"), expected: CategoryTransient},
		{name: "transport is transient", err: NewError(KindHTTPTransport, "", "reset"), expected: CategoryTransient},
		{name: "timeout is transient", err: NewError(KindNetworkTimeout, "", "deadline"), expected: CategoryTransient},
		{name: "connection refused is transient", err: NewError(KindConnectionRefused, "", "refused"), expected: CategoryTransient},
		{name: "dns is transient", err: NewError(KindDNSFailure, "", "no such host"), expected: CategoryTransient},
		{name: "service unavailable is transient", err: NewError(KindServiceUnavailable, "", "down"), expected: CategoryTransient},
		{name: "overloaded is transient", err: NewError(KindServiceOverloaded, "", "busy"), expected: CategoryTransient},
		{name: "internal server is transient", err: NewError(KindInternalServer, "", "boom"), expected: CategoryTransient},
		{name: "rate limited", err: NewRateLimitError("arxiv", time.Second), expected: CategoryRateLimited},
		{name: "circuit open", err: NewError(KindCircuitOpen, "arxiv", ""), expected: CategoryCircuitBreaker},
		{name: "status 429 is rate limited", err: NewUpstreamStatusError("x", 429, ""), expected: CategoryRateLimited},
		{name: "status 403 is transient", err: NewUpstreamStatusError("x", 403, ""), expected: CategoryTransient},
		{name: "status 404 is permanent", err: NewUpstreamStatusError("x", 404, ""), expected: CategoryPermanent},
		{name: "status 400 is permanent", err: NewUpstreamStatusError("x", 400, ""), expected: CategoryPermanent},
		{name: "status 500 is transient", err: NewUpstreamStatusError("x", 500, ""), expected: CategoryTransient},
		{name: "status 502 is transient", err: NewUpstreamStatusError("x", 502, ""), expected: CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Category())
		})
	}
}

func TestError_TriggersCircuitBreaker(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected bool
	}{
		{name: "service unavailable triggers", err: NewError(KindServiceUnavailable, "", ""), expected: true},
		{name: "internal server triggers", err: NewError(KindInternalServer, "", ""), expected: true},
		{name: "overloaded triggers", err: NewError(KindServiceOverloaded, "", ""), expected: true},
		{name: "timeout triggers", err: NewError(KindNetworkTimeout, "", ""), expected: true},
		{name: "connection refused triggers", err: NewError(KindConnectionRefused, "", ""), expected: true},
		{name: "status 503 triggers", err: NewUpstreamStatusError("x", 503, ""), expected: true},
		{name: "status 500 triggers", err: NewUpstreamStatusError("x", 500, ""), expected: true},
		{name: "rate limit does not trigger", err: NewRateLimitError("x", time.Second), expected: false},
		{name: "parse does not trigger", err: NewError(KindParse, "", ""), expected: false},
		{name: "invalid input does not trigger", err: NewError(KindInvalidInput, "", ""), expected: false},
		{name: "status 404 does not trigger", err: NewUpstreamStatusError("x", 404, ""), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.TriggersCircuitBreaker())
		})
	}
}

func TestKindOf(t *testing.T) {
	t.Run("extracts kind from typed error", func(t *testing.T) {
		err := fmt.Errorf("search failed: %w", NewError(KindRateLimited, "arxiv", "slow down"))
		assert.Equal(t, KindRateLimited, KindOf(err))
	})

	t.Run("circuit open sentinel", func(t *testing.T) {
		err := fmt.Errorf("call rejected: %w", ErrCircuitOpen)
		assert.Equal(t, KindCircuitOpen, KindOf(err))
	})

	t.Run("context deadline maps to timeout", func(t *testing.T) {
		assert.Equal(t, KindNetworkTimeout, KindOf(context.DeadlineExceeded))
	})

	t.Run("unknown error is transport", func(t *testing.T) {
		assert.Equal(t, KindHTTPTransport, KindOf(errors.New("mystery")))
	})
}

func TestRetryAfterOf(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", NewRateLimitError("arxiv", 5*time.Second))
		d, ok := RetryAfterOf(err)
		require.True(t, ok)
		assert.Equal(t, 5*time.Second, d)
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := RetryAfterOf(errors.New("plain"))
		assert.False(t, ok)
	})
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := WrapError(KindHTTPTransport, "crossref", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "crossref")
}
