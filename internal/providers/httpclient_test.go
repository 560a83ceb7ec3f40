package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-retrieval-service/internal/domain"
)

func TestHTTPClient_Do(t *testing.T) {
	t.Run("sets default user agent", func(t *testing.T) {
		var gotUA string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
		}))
		defer srv.Close()

		c := NewHTTPClient(HTTPClientConfig{UserAgent: "test-agent/1.0"})
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		resp, err := c.Do(req, "test")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "test-agent/1.0", gotUA)
	})

	t.Run("caller headers win over the default", func(t *testing.T) {
		var gotUA string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
		}))
		defer srv.Close()

		c := NewHTTPClient(HTTPClientConfig{UserAgent: "default/1.0"})
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		req.Header.Set("User-Agent", "custom/2.0")

		resp, err := c.Do(req, "test")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "custom/2.0", gotUA)
	})

	t.Run("timeout classifies as network timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		c := NewHTTPClient(HTTPClientConfig{Timeout: 20 * time.Millisecond})
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		_, err = c.Do(req, "test")
		require.Error(t, err)
		assert.Equal(t, domain.KindNetworkTimeout, domain.KindOf(err))
	})

	t.Run("refused connection classifies as connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		addr := srv.URL
		srv.Close() // nothing listens here anymore

		c := NewHTTPClient(HTTPClientConfig{Timeout: time.Second})
		req, err := http.NewRequest(http.MethodGet, addr, nil)
		require.NoError(t, err)

		_, err = c.Do(req, "test")
		require.Error(t, err)
		assert.Equal(t, domain.KindConnectionRefused, domain.KindOf(err))
	})

	t.Run("context cancellation classifies as timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		c := NewHTTPClient(HTTPClientConfig{})
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		_, err = c.Do(req, "test")
		require.Error(t, err)
		assert.Equal(t, domain.KindNetworkTimeout, domain.KindOf(err))
	})
}

func TestClassifyStatus(t *testing.T) {
	mkResp := func(status int, headers map[string]string) *http.Response {
		h := http.Header{}
		for k, v := range headers {
			h.Set(k, v)
		}
		return &http.Response{StatusCode: status, Header: h}
	}

	tests := []struct {
		name     string
		resp     *http.Response
		expected domain.Kind
	}{
		{name: "429", resp: mkResp(429, map[string]string{"Retry-After": "30"}), expected: domain.KindRateLimited},
		{name: "503", resp: mkResp(503, nil), expected: domain.KindServiceUnavailable},
		{name: "401", resp: mkResp(401, nil), expected: domain.KindAuth},
		{name: "403", resp: mkResp(403, nil), expected: domain.KindUpstreamStatus},
		{name: "404", resp: mkResp(404, nil), expected: domain.KindUpstreamStatus},
		{name: "500", resp: mkResp(500, nil), expected: domain.KindInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyStatus("test", tt.resp)
			assert.Equal(t, tt.expected, domain.KindOf(err))
		})
	}

	t.Run("429 carries retry hint", func(t *testing.T) {
		err := ClassifyStatus("test", mkResp(429, map[string]string{"Retry-After": "30"}))
		hint, ok := domain.RetryAfterOf(err)
		require.True(t, ok)
		assert.Equal(t, 30*time.Second, hint)
	})

	t.Run("403 categorizes transient", func(t *testing.T) {
		err := ClassifyStatus("test", mkResp(403, nil))
		assert.Equal(t, domain.CategoryTransient, domain.CategoryOf(err))
	})
}

func TestRetryAfterHeader(t *testing.T) {
	mk := func(v string) *http.Response {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return &http.Response{Header: h}
	}

	assert.Equal(t, 5*time.Second, RetryAfterHeader(mk("5")))
	assert.Equal(t, time.Duration(0), RetryAfterHeader(mk("")))
	assert.Equal(t, time.Duration(0), RetryAfterHeader(mk("-3")))
	assert.Equal(t, time.Duration(0), RetryAfterHeader(mk("garbage value")))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := RetryAfterHeader(mk(future))
	assert.Greater(t, d, 50*time.Second)
}
