// Package health aggregates the service's runtime signals into a single
// report: circuit breaker states, rate limiter throughput, mirror pool
// condition, in-flight downloads, and free disk space under the download
// directory.
package health

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/helixir/paper-retrieval-service/internal/download"
	"github.com/helixir/paper-retrieval-service/internal/mirror"
	"github.com/helixir/paper-retrieval-service/internal/resilience"
)

// Level is the rolled-up service condition.
type Level string

const (
	LevelHealthy   Level = "healthy"
	LevelDegraded  Level = "degraded"
	LevelUnhealthy Level = "unhealthy"
)

// Default thresholds for the rollup.
const (
	// unhealthyMirrorFraction marks the whole service unhealthy once this
	// share of the mirror pool is down.
	unhealthyMirrorFraction = 0.5
	// lowDiskBytes degrades the service when less free space remains under
	// the download directory.
	lowDiskBytes = 500 * 1024 * 1024
)

// ProviderHealth combines a provider's breaker view with its limiter state.
type ProviderHealth struct {
	Name            string                    `json:"name"`
	CircuitState    resilience.CircuitState   `json:"circuit_state"`
	Breaker         resilience.BreakerMetrics `json:"breaker"`
	RatePerSecond   float64                   `json:"rate_per_second"`
	AverageResponse time.Duration             `json:"average_response_ns"`
}

// DiskStatus reports free space under the download directory.
type DiskStatus struct {
	Path       string `json:"path"`
	FreeBytes  uint64 `json:"free_bytes"`
	TotalBytes uint64 `json:"total_bytes"`
}

// Report is one aggregated health snapshot.
type Report struct {
	Status          Level            `json:"status"`
	CheckedAt       time.Time        `json:"checked_at"`
	Providers       []ProviderHealth `json:"providers"`
	Mirrors         []mirror.Status  `json:"mirrors,omitempty"`
	ActiveDownloads int              `json:"active_downloads"`
	Disk            *DiskStatus      `json:"disk,omitempty"`
	// Reasons lists what pulled the status below healthy.
	Reasons []string `json:"reasons,omitempty"`
}

// DownloadTracker is the slice of the downloader the checker needs.
type DownloadTracker interface {
	Active() []download.Progress
}

// Checker assembles health reports on demand. Every collaborator may be
// nil; the report simply omits that section.
type Checker struct {
	breakers    *resilience.BreakerRegistry
	limiters    *resilience.LimiterRegistry
	mirrors     *mirror.Manager
	downloads   DownloadTracker
	downloadDir string
	log         zerolog.Logger
}

// New creates a health checker.
func New(
	breakers *resilience.BreakerRegistry,
	limiters *resilience.LimiterRegistry,
	mirrors *mirror.Manager,
	downloads DownloadTracker,
	downloadDir string,
	log zerolog.Logger,
) *Checker {
	return &Checker{
		breakers:    breakers,
		limiters:    limiters,
		mirrors:     mirrors,
		downloads:   downloads,
		downloadDir: downloadDir,
		log:         log.With().Str("component", "health").Logger(),
	}
}

// Check collects a point-in-time report and rolls it up. The rollup is
// unhealthy when any circuit is open or most mirrors are down, degraded
// when any circuit is half-open, any mirror is below healthy, or disk
// space runs low, and healthy otherwise.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Status:    LevelHealthy,
		CheckedAt: time.Now(),
	}
	var reasons []string

	if c.breakers != nil {
		limiterStates := map[string]resilience.LimiterStatus{}
		if c.limiters != nil {
			limiterStates = c.limiters.Snapshot()
		}
		for name, metrics := range c.breakers.Snapshot() {
			ph := ProviderHealth{
				Name:         name,
				CircuitState: metrics.State,
				Breaker:      metrics,
			}
			if ls, ok := limiterStates[name]; ok {
				ph.RatePerSecond = ls.Rate
				ph.AverageResponse = ls.AverageResponse
			}
			report.Providers = append(report.Providers, ph)

			switch metrics.State {
			case resilience.CircuitOpen:
				reasons = append(reasons, "circuit open: "+name)
			case resilience.CircuitHalfOpen:
				reasons = append(reasons, "circuit half-open: "+name)
			}
		}
		sort.Slice(report.Providers, func(i, j int) bool {
			return report.Providers[i].Name < report.Providers[j].Name
		})
	}

	if c.mirrors != nil {
		report.Mirrors = c.mirrors.Statuses()
		for _, m := range report.Mirrors {
			if m.Health != mirror.HealthHealthy && m.Health != mirror.HealthUnknown {
				reasons = append(reasons, "mirror "+string(m.Health)+": "+m.URL)
			}
		}
	}

	if c.downloads != nil {
		report.ActiveDownloads = len(c.downloads.Active())
	}

	if c.downloadDir != "" {
		if disk, err := diskStatus(c.downloadDir); err != nil {
			c.log.Warn().Err(err).Str("path", c.downloadDir).Msg("disk space check failed")
		} else {
			report.Disk = disk
			if disk.FreeBytes < lowDiskBytes {
				reasons = append(reasons, "low disk space under "+c.downloadDir)
			}
		}
	}

	report.Reasons = reasons
	report.Status = c.rollup(report)
	return report
}

func (c *Checker) rollup(r *Report) Level {
	for _, p := range r.Providers {
		if p.CircuitState == resilience.CircuitOpen {
			return LevelUnhealthy
		}
	}
	if c.mirrors != nil && len(r.Mirrors) > 0 && c.mirrors.UnhealthyFraction() > unhealthyMirrorFraction {
		return LevelUnhealthy
	}
	if len(r.Reasons) > 0 {
		return LevelDegraded
	}
	return LevelHealthy
}

// Run re-checks on a fixed interval until the context ends, logging level
// transitions. Useful alongside the on-demand health_check method.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := LevelHealthy
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := c.Check(ctx)
			if report.Status != last {
				c.log.Warn().
					Str("from", string(last)).
					Str("to", string(report.Status)).
					Strs("reasons", report.Reasons).
					Msg("health level changed")
				last = report.Status
			}
		}
	}
}

func diskStatus(path string) (*DiskStatus, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, err
	}
	return &DiskStatus{
		Path:       path,
		FreeBytes:  st.Bavail * uint64(st.Bsize),
		TotalBytes: st.Blocks * uint64(st.Bsize),
	}, nil
}
