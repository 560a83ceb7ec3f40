package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/helixir/paper-retrieval-service/internal/domain"
)

// CircuitState is the state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed admits all calls.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen rejects all calls until the recovery timeout elapses.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen admits a bounded number of probe calls.
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of qualifying consecutive failures that
	// opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes that close it.
	SuccessThreshold int

	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent probe calls while half-open.
	HalfOpenMaxCalls int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// BreakerMetrics is a point-in-time view of a breaker, for health reporting.
type BreakerMetrics struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	TotalRequests   int64        `json:"total_requests"`
	TotalFailures   int64        `json:"total_failures"`
	FailureRate     float64      `json:"failure_rate"`
	LastFailureTime time.Time    `json:"last_failure_time,omitzero"`
	OpenedAt        time.Time    `json:"opened_at,omitzero"`
}

// Breaker is a named circuit breaker. Transitions from open to half-open
// happen only on admission checks, not on a timer, so an idle open circuit
// stays open until someone actually tries it.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	successCount     int
	halfOpenInFlight int
	openedAt         time.Time
	lastFailure      time.Time
	totalRequests    int64
	totalFailures    int64
}

// NewBreaker creates a circuit breaker with the given configuration.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: CircuitClosed,
	}
}

// Execute runs fn if the circuit admits the call. A rejected call returns a
// circuit-open error without invoking fn. Only failures that qualify per
// domain error classification count toward opening the circuit.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	b.record(err)
	return err
}

// admit checks whether a call may proceed and performs the open→half-open
// transition when the recovery timeout has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(b.openedAt) < b.cfg.RecoveryTimeout {
			b.totalRequests-- // rejected calls are not requests to the upstream
			return b.openError()
		}
		b.state = CircuitHalfOpen
		b.successCount = 0
		b.halfOpenInFlight = 1
		return nil
	case CircuitHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			b.totalRequests--
			return b.openError()
		}
		b.halfOpenInFlight++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) openError() error {
	return &domain.Error{
		Kind:    domain.KindCircuitOpen,
		Source:  b.name,
		Message: fmt.Sprintf("circuit open, retry after %s", b.cfg.RecoveryTimeout),
		Cause:   domain.ErrCircuitOpen,
	}
}

// record applies the outcome of an admitted call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err == nil {
		b.onSuccess()
		return
	}

	if !triggersBreaker(err) {
		// Non-qualifying failures (bad input, parse errors, rate limits)
		// neither open the circuit nor reset the failure streak.
		return
	}

	b.totalFailures++
	b.lastFailure = time.Now()

	switch b.state {
	case CircuitClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.trip()
		}
	case CircuitHalfOpen:
		// A failed probe reopens immediately.
		b.trip()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case CircuitClosed:
		b.failureCount = 0
	case CircuitHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = CircuitClosed
			b.failureCount = 0
			b.successCount = 0
			b.halfOpenInFlight = 0
		}
	}
}

func (b *Breaker) trip() {
	b.state = CircuitOpen
	b.openedAt = time.Now()
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
}

// Reset forces the breaker back to closed with all counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
}

// ForceOpen trips the breaker regardless of failure counts.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip()
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker's counters.
func (b *Breaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := BreakerMetrics{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		TotalRequests:   b.totalRequests,
		TotalFailures:   b.totalFailures,
		LastFailureTime: b.lastFailure,
		OpenedAt:        b.openedAt,
	}
	if b.totalRequests > 0 {
		m.FailureRate = float64(b.totalFailures) / float64(b.totalRequests)
	}
	return m
}

// triggersBreaker reports whether an error counts against the circuit.
func triggersBreaker(err error) bool {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.TriggersCircuitBreaker()
	}
	// Untyped context expiry counts as a timeout.
	return errors.Is(err, context.DeadlineExceeded)
}

// BreakerRegistry provides named circuit breakers, lazily created on first
// access. It is safe for concurrent use.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	configs  map[string]BreakerConfig
	fallback BreakerConfig
}

// NewBreakerRegistry creates a registry with per-name configurations. Names
// not present in configs fall back to the given default.
func NewBreakerRegistry(configs map[string]BreakerConfig, fallback BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		configs:  configs,
		fallback: fallback.withDefaults(),
	}
}

// Get returns the breaker for the given name, creating it on first access.
func (r *BreakerRegistry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.fallback
	}
	b := NewBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

// State returns the state of the named breaker, or CircuitClosed when the
// breaker has not been created yet.
func (r *BreakerRegistry) State(name string) CircuitState {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()

	if !ok {
		return CircuitClosed
	}
	return b.State()
}

// Snapshot returns metrics for every breaker created so far.
func (r *BreakerRegistry) Snapshot() map[string]BreakerMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerMetrics, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Metrics()
	}
	return out
}
