package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-retrieval-service/internal/domain"
)

// RetryConfig describes one backoff schedule.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	JitterFraction float64
	AttemptTimeout time.Duration
}

// DefaultRetryConfig is the general-purpose schedule for transient failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		Multiplier:     2.0,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.1,
		AttemptTimeout: 30 * time.Second,
	}
}

// FastRetryConfig retries quickly for network-level failures expected to
// recover fast (timeouts, refused connections, DNS hiccups).
func FastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   50 * time.Millisecond,
		Multiplier:     1.5,
		MaxDelay:       5 * time.Second,
		JitterFraction: 0.1,
		AttemptTimeout: 10 * time.Second,
	}
}

// SlowRetryConfig retries patiently for upstreams known to recover slowly
// (unavailable, overloaded, or erroring service).
func SlowRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialDelay:   1 * time.Second,
		Multiplier:     2.0,
		MaxDelay:       60 * time.Second,
		JitterFraction: 0.2,
		AttemptTimeout: 60 * time.Second,
	}
}

// RateLimitedRetryConfig retries persistently against throttling upstreams,
// honoring their retry hints up to a five-minute ceiling.
func RateLimitedRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    10,
		InitialDelay:   1 * time.Second,
		Multiplier:     1.5,
		MaxDelay:       300 * time.Second,
		JitterFraction: 0.3,
		AttemptTimeout: 30 * time.Second,
	}
}

// Policy selects a retry schedule from a failure's classification.
type Policy struct {
	Default     RetryConfig
	Fast        RetryConfig
	Slow        RetryConfig
	RateLimited RetryConfig
}

// DefaultPolicy pairs every schedule with its standard preset.
func DefaultPolicy() Policy {
	return Policy{
		Default:     DefaultRetryConfig(),
		Fast:        FastRetryConfig(),
		Slow:        SlowRetryConfig(),
		RateLimited: RateLimitedRetryConfig(),
	}
}

// ConfigFor returns the schedule for the given error, or nil when the error
// must not be retried. Permanent failures and open circuits fail fast.
// Network-level failures take the fast schedule, failing services the slow
// one, and other transient errors the default.
func (p Policy) ConfigFor(err error) *RetryConfig {
	switch domain.CategoryOf(err) {
	case domain.CategoryTransient:
		var cfg RetryConfig
		switch domain.KindOf(err) {
		case domain.KindNetworkTimeout, domain.KindConnectionRefused, domain.KindDNSFailure:
			cfg = p.Fast
		case domain.KindServiceUnavailable, domain.KindServiceOverloaded, domain.KindInternalServer:
			cfg = p.Slow
		default:
			cfg = p.Default
		}
		return &cfg
	case domain.CategoryRateLimited:
		cfg := p.RateLimited
		return &cfg
	default:
		return nil
	}
}

// Do runs fn with error-classified retries. The schedule is re-selected
// after every failure, so an operation that starts with a transient error
// and then hits throttling switches to the rate-limited schedule. An
// upstream Retry-After hint overrides the computed delay, capped at the
// schedule's maximum.
func Do(ctx context.Context, log zerolog.Logger, name string, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	active := policy.Default

	for attempt := 1; ; attempt++ {
		lastErr = runAttempt(ctx, active.AttemptTimeout, fn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		cfg := policy.ConfigFor(lastErr)
		if cfg == nil {
			return lastErr
		}
		active = *cfg
		if attempt >= cfg.MaxAttempts {
			log.Debug().
				Str("operation", name).
				Int("attempts", attempt).
				Err(lastErr).
				Msg("retries exhausted")
			return lastErr
		}

		delay := backoffDelay(*cfg, attempt)
		if hint, ok := domain.RetryAfterOf(lastErr); ok {
			delay = hint
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		log.Debug().
			Str("operation", name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(lastErr).
			Msg("retrying after failure")

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
}

// runAttempt applies the per-attempt timeout, if configured, and maps its
// expiry to a network timeout error.
func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return domain.WrapError(domain.KindNetworkTimeout, "", err)
	}
	return err
}

// backoffDelay computes the exponential delay for the given attempt number
// (1-based) plus uniform jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	base := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}
	if cfg.JitterFraction > 0 {
		base += rand.Float64() * base * cfg.JitterFraction
	}
	if base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}
	return time.Duration(base)
}
