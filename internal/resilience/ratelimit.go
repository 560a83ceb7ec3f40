// Package resilience provides the rate limiting, circuit breaking, and retry
// primitives shared by all upstream provider clients.
package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// responseTimeWindow is how many recent response times feed rate adaptation.
	responseTimeWindow = 10

	// minSamplesToAdapt is the minimum number of samples before the rate moves.
	minSamplesToAdapt = 3

	// slowThreshold is the average response time above which the rate decreases.
	slowThreshold = 5 * time.Second

	// fastThreshold is the average response time below which the rate increases.
	fastThreshold = 1 * time.Second

	// burstWindow is the rolling window in which burst acquisitions are counted.
	burstWindow = time.Minute
)

// LimiterConfig configures a per-provider rate limiter.
type LimiterConfig struct {
	// RatePerSecond is the sustained request rate. Fractional values are
	// allowed; 0.33 means one request every three seconds.
	RatePerSecond float64

	// BurstSize is the number of requests allowed to skip pacing inside a
	// rolling one-minute window. Zero disables bursting.
	BurstSize int

	// Adaptive enables response-time driven rate adjustment between MinRate
	// and MaxRate.
	Adaptive bool
	MinRate  float64
	MaxRate  float64
}

// Limiter paces requests to a single upstream provider. The token bucket
// does the pacing; the mutex only guards the burst and adaptation counters
// and is never held while waiting, so waiting goroutines do not serialize
// behind bookkeeping.
type Limiter struct {
	name    string
	limiter *rate.Limiter
	cfg     LimiterConfig

	mu            sync.Mutex
	currentRate   float64
	burstUsed     int
	burstStart    time.Time
	responseTimes []time.Duration
}

// NewLimiter creates a limiter for the named provider.
func NewLimiter(name string, cfg LimiterConfig) *Limiter {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Adaptive {
		if cfg.MinRate <= 0 {
			cfg.MinRate = cfg.RatePerSecond / 4
		}
		if cfg.MaxRate <= 0 {
			cfg.MaxRate = cfg.RatePerSecond * 4
		}
	}
	return &Limiter{
		name:        name,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cfg:         cfg,
		currentRate: cfg.RatePerSecond,
	}
}

// Wait blocks until the next request may proceed or the context ends. Burst
// acquisitions inside the rolling window skip the wait entirely.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.tryBurst() {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// tryBurst consumes a burst slot if one is available in the current window.
func (l *Limiter) tryBurst() bool {
	if l.cfg.BurstSize <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.burstStart) >= burstWindow {
		l.burstStart = now
		l.burstUsed = 0
	}
	if l.burstUsed >= l.cfg.BurstSize {
		return false
	}
	l.burstUsed++
	return true
}

// RecordResponseTime feeds a completed request's latency into rate
// adaptation. With the limiter non-adaptive this is a no-op.
//
// The adjustment is AIMD: a slow average halves the rate, a fast average
// adds a fixed increment. Ramp-down is immediate when the upstream
// struggles; ramp-up is gradual so a recovering upstream is not flooded.
func (l *Limiter) RecordResponseTime(d time.Duration) {
	if !l.cfg.Adaptive {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.responseTimes = append(l.responseTimes, d)
	if len(l.responseTimes) > responseTimeWindow {
		l.responseTimes = l.responseTimes[len(l.responseTimes)-responseTimeWindow:]
	}
	if len(l.responseTimes) < minSamplesToAdapt {
		return
	}

	avg := l.averageLocked()
	newRate := l.currentRate
	switch {
	case avg > slowThreshold:
		newRate = l.currentRate * 0.5
	case avg < fastThreshold:
		newRate = l.currentRate + 0.25
	}
	if newRate < l.cfg.MinRate {
		newRate = l.cfg.MinRate
	}
	if newRate > l.cfg.MaxRate {
		newRate = l.cfg.MaxRate
	}
	if newRate != l.currentRate {
		l.currentRate = newRate
		l.limiter.SetLimit(rate.Limit(newRate))
	}
}

// CurrentRate returns the effective request rate in requests per second.
func (l *Limiter) CurrentRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRate
}

// AverageResponseTime returns the mean of the recorded latency window, or
// zero when no samples exist.
func (l *Limiter) AverageResponseTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.averageLocked()
}

func (l *Limiter) averageLocked() time.Duration {
	if len(l.responseTimes) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range l.responseTimes {
		total += d
	}
	return total / time.Duration(len(l.responseTimes))
}

// Name returns the provider name this limiter paces.
func (l *Limiter) Name() string {
	return l.name
}

// LimiterRegistry provides named rate limiters, lazily created on first
// access. It is safe for concurrent use.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	configs  map[string]LimiterConfig
	fallback LimiterConfig
}

// NewLimiterRegistry creates a registry with per-name configurations. Names
// not present in configs fall back to the given default.
func NewLimiterRegistry(configs map[string]LimiterConfig, fallback LimiterConfig) *LimiterRegistry {
	if fallback.RatePerSecond <= 0 {
		fallback.RatePerSecond = 1
	}
	return &LimiterRegistry{
		limiters: make(map[string]*Limiter),
		configs:  configs,
		fallback: fallback,
	}
}

// Get returns the limiter for the given provider name, creating it on first
// access.
func (r *LimiterRegistry) Get(name string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[name]; ok {
		return l
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.fallback
	}
	l := NewLimiter(name, cfg)
	r.limiters[name] = l
	return l
}

// Snapshot returns the current rate and average latency per known limiter.
func (r *LimiterRegistry) Snapshot() map[string]LimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]LimiterStatus, len(r.limiters))
	for name, l := range r.limiters {
		out[name] = LimiterStatus{
			Rate:            l.CurrentRate(),
			AverageResponse: l.AverageResponseTime(),
		}
	}
	return out
}

// LimiterStatus is a point-in-time view of one limiter, for health reporting.
type LimiterStatus struct {
	Rate            float64       `json:"rate_per_second"`
	AverageResponse time.Duration `json:"average_response"`
}
