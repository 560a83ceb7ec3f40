package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(urls ...string) *Manager {
	return NewManager(urls, nil, zerolog.Nop())
}

func TestManager_Next(t *testing.T) {
	t.Run("empty pool errors", func(t *testing.T) {
		m := newTestManager()
		_, err := m.Next()
		assert.Error(t, err)
	})

	t.Run("untried mirrors returned in order", func(t *testing.T) {
		m := newTestManager("https://a.example", "https://b.example")
		u, err := m.Next()
		require.NoError(t, err)
		assert.Equal(t, "https://a.example", u)
	})

	t.Run("lowest latency wins", func(t *testing.T) {
		m := newTestManager("https://a.example", "https://b.example")
		m.MarkSuccess("https://a.example", 800*time.Millisecond)
		m.MarkSuccess("https://b.example", 100*time.Millisecond)

		u, err := m.Next()
		require.NoError(t, err)
		assert.Equal(t, "https://b.example", u)
	})

	t.Run("unhealthy mirrors are skipped", func(t *testing.T) {
		m := newTestManager("https://a.example", "https://b.example")
		m.MarkSuccess("https://a.example", 10*time.Millisecond)
		m.MarkSuccess("https://b.example", 500*time.Millisecond)
		for i := 0; i < 3; i++ {
			m.MarkFailed("https://a.example")
		}

		u, err := m.Next()
		require.NoError(t, err)
		assert.Equal(t, "https://b.example", u)
	})

	t.Run("degraded ranks below healthy", func(t *testing.T) {
		m := newTestManager("https://a.example", "https://b.example")
		m.MarkSuccess("https://a.example", 10*time.Millisecond)
		m.MarkSuccess("https://b.example", 500*time.Millisecond)
		m.MarkFailed("https://a.example")

		u, err := m.Next()
		require.NoError(t, err)
		assert.Equal(t, "https://b.example", u)
	})

	t.Run("all unhealthy rotates by last attempt", func(t *testing.T) {
		m := newTestManager("https://a.example", "https://b.example")
		for i := 0; i < 3; i++ {
			m.MarkFailed("https://a.example")
		}
		time.Sleep(2 * time.Millisecond)
		for i := 0; i < 3; i++ {
			m.MarkFailed("https://b.example")
		}

		u, err := m.Next()
		require.NoError(t, err)
		assert.Equal(t, "https://a.example", u)

		time.Sleep(2 * time.Millisecond)
		m.MarkFailed("https://a.example")
		u, err = m.Next()
		require.NoError(t, err)
		assert.Equal(t, "https://b.example", u)
	})
}

func TestManager_HealthTransitions(t *testing.T) {
	m := newTestManager("https://a.example")

	t.Run("one failure degrades", func(t *testing.T) {
		m.MarkFailed("https://a.example")
		assert.Equal(t, HealthDegraded, m.Statuses()[0].Health)
	})

	t.Run("three failures mark unhealthy", func(t *testing.T) {
		m.MarkFailed("https://a.example")
		m.MarkFailed("https://a.example")
		st := m.Statuses()[0]
		assert.Equal(t, HealthUnhealthy, st.Health)
		assert.Equal(t, 3, st.ConsecutiveFailures)
	})

	t.Run("recovery steps up one level at a time", func(t *testing.T) {
		m.MarkSuccess("https://a.example", 50*time.Millisecond)
		st := m.Statuses()[0]
		assert.Equal(t, HealthDegraded, st.Health)
		assert.Equal(t, 0, st.ConsecutiveFailures)

		m.MarkSuccess("https://a.example", 50*time.Millisecond)
		assert.Equal(t, HealthHealthy, m.Statuses()[0].Health)
	})
}

func TestManager_EWMA(t *testing.T) {
	m := newTestManager("https://a.example")

	m.MarkSuccess("https://a.example", 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, m.Statuses()[0].ResponseTime)

	// 0.3*200 + 0.7*100 = 130ms
	m.MarkSuccess("https://a.example", 200*time.Millisecond)
	assert.InDelta(t, float64(130*time.Millisecond), float64(m.Statuses()[0].ResponseTime), float64(time.Millisecond))
}

func TestManager_UnhealthyFraction(t *testing.T) {
	m := newTestManager("https://a.example", "https://b.example", "https://c.example", "https://d.example")
	for i := 0; i < 3; i++ {
		m.MarkFailed("https://a.example")
		m.MarkFailed("https://b.example")
		m.MarkFailed("https://c.example")
	}
	assert.InDelta(t, 0.75, m.UnhealthyFraction(), 0.001)
}

func TestManager_HealthCheckAll(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	m := newTestManager(up.URL, down.URL)
	m.HealthCheckAll(context.Background())

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, HealthHealthy, statuses[0].Health)
	assert.Equal(t, HealthDegraded, statuses[1].Health)
	assert.Greater(t, statuses[0].ResponseTime, time.Duration(0))
}
