// Package mirror tracks the health of interchangeable upstream endpoints and
// picks the best one for each request.
package mirror

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-retrieval-service/internal/domain"
)

// Health is the coarse health of a single mirror.
type Health string

const (
	// HealthHealthy means the mirror served its last requests normally.
	HealthHealthy Health = "healthy"

	// HealthDegraded means the mirror failed once or twice recently.
	HealthDegraded Health = "degraded"

	// HealthUnhealthy means the mirror failed three or more times in a row.
	HealthUnhealthy Health = "unhealthy"

	// HealthUnknown means the mirror has not been tried yet.
	HealthUnknown Health = "unknown"
)

// ewmaAlpha is the smoothing factor for response time tracking. Recent
// samples dominate so a recovering mirror climbs the ranking quickly.
const ewmaAlpha = 0.3

// healthCheckTimeout bounds each individual probe in HealthCheckAll.
const healthCheckTimeout = 10 * time.Second

// Status is a point-in-time view of one mirror.
type Status struct {
	URL                 string        `json:"url"`
	Health              Health        `json:"health"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ResponseTime        time.Duration `json:"response_time"`
	LastSuccess         time.Time     `json:"last_success,omitzero"`
	LastAttempt         time.Time     `json:"last_attempt,omitzero"`
}

type entry struct {
	url          string
	health       Health
	failures     int
	responseTime time.Duration // EWMA, zero until the first success
	lastSuccess  time.Time
	lastAttempt  time.Time
}

// Manager ranks a fixed pool of mirrors by observed health and latency.
// All methods are safe for concurrent use.
type Manager struct {
	log    zerolog.Logger
	client *http.Client

	mu      sync.RWMutex
	entries []*entry
	byURL   map[string]*entry
}

// NewManager creates a manager over the given mirror URLs. Order matters:
// earlier mirrors win latency ties, and unknown mirrors are tried in order.
func NewManager(urls []string, client *http.Client, log zerolog.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: healthCheckTimeout}
	}
	m := &Manager{
		log:    log.With().Str("component", "mirror_manager").Logger(),
		client: client,
		byURL:  make(map[string]*entry, len(urls)),
	}
	for _, u := range urls {
		if _, dup := m.byURL[u]; dup {
			continue
		}
		e := &entry{url: u, health: HealthUnknown}
		m.entries = append(m.entries, e)
		m.byURL[u] = e
	}
	return m
}

// Next returns the URL of the mirror to try. Usable mirrors (healthy,
// degraded, or untried) are preferred by lowest observed latency; when every
// mirror is unhealthy the least recently attempted one is returned so the
// pool keeps probing for recovery.
func (m *Manager) Next() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return "", domain.NewError(domain.KindConfig, "", "no mirrors configured")
	}

	// Healthy and untried mirrors outrank degraded ones; within a tier the
	// lowest observed latency wins and insertion order breaks ties.
	var best *entry
	for _, e := range m.entries {
		if e.health == HealthUnhealthy {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		if tier(e) < tier(best) || (tier(e) == tier(best) && e.responseTime < best.responseTime) {
			best = e
		}
	}
	if best != nil {
		return best.url, nil
	}

	// All unhealthy: round-robin exploration by last attempt time.
	var stale *entry
	for _, e := range m.entries {
		if stale == nil || e.lastAttempt.Before(stale.lastAttempt) {
			stale = e
		}
	}
	return stale.url, nil
}

func tier(e *entry) int {
	if e.health == HealthDegraded {
		return 1
	}
	return 0
}

// MarkSuccess records a successful request against the mirror. The failure
// streak resets and health steps up one level per success rather than
// jumping straight to healthy.
func (m *Manager) MarkSuccess(url string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byURL[url]
	if !ok {
		return
	}

	now := time.Now()
	e.failures = 0
	e.lastSuccess = now
	e.lastAttempt = now
	if e.responseTime == 0 {
		e.responseTime = latency
	} else {
		e.responseTime = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(e.responseTime))
	}

	switch e.health {
	case HealthUnhealthy:
		e.health = HealthDegraded
	default:
		e.health = HealthHealthy
	}
}

// MarkFailed records a failed request against the mirror.
func (m *Manager) MarkFailed(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byURL[url]
	if !ok {
		return
	}

	e.failures++
	e.lastAttempt = time.Now()
	if e.failures >= 3 {
		if e.health != HealthUnhealthy {
			m.log.Warn().Str("mirror", url).Int("failures", e.failures).Msg("mirror marked unhealthy")
		}
		e.health = HealthUnhealthy
	} else {
		e.health = HealthDegraded
	}
}

// HealthCheckAll probes every mirror with a HEAD request and updates its
// health from the result. Probes run sequentially; the pool is small and
// the per-probe timeout bounds the total.
func (m *Manager) HealthCheckAll(ctx context.Context) {
	m.mu.RLock()
	urls := make([]string, len(m.entries))
	for i, e := range m.entries {
		urls[i] = e.url
	}
	m.mu.RUnlock()

	for _, u := range urls {
		if ctx.Err() != nil {
			return
		}
		m.probe(ctx, u)
	}
}

func (m *Manager) probe(ctx context.Context, url string) {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		m.MarkFailed(url)
		return
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Debug().Str("mirror", url).Err(err).Msg("health probe failed")
		m.MarkFailed(url)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		m.MarkFailed(url)
		return
	}
	m.MarkSuccess(url, time.Since(start))
}

// Statuses returns a snapshot of every mirror in ranking order.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, len(m.entries))
	for i, e := range m.entries {
		out[i] = Status{
			URL:                 e.url,
			Health:              e.health,
			ConsecutiveFailures: e.failures,
			ResponseTime:        e.responseTime,
			LastSuccess:         e.lastSuccess,
			LastAttempt:         e.lastAttempt,
		}
	}
	return out
}

// UnhealthyFraction returns the share of mirrors currently unhealthy.
func (m *Manager) UnhealthyFraction() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return 0
	}
	unhealthy := 0
	for _, e := range m.entries {
		if e.health == HealthUnhealthy {
			unhealthy++
		}
	}
	return float64(unhealthy) / float64(len(m.entries))
}
