package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper retrieval service.
// Metrics are organized by subsystem: searches, providers, downloads,
// resilience, and mirrors. All counters and histograms are registered via
// promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// MetaSearchesStarted counts meta-searches initiated.
	MetaSearchesStarted prometheus.Counter

	// MetaSearchDuration observes end-to-end meta-search duration in seconds.
	MetaSearchDuration prometheus.Histogram

	// SearchesStarted counts provider searches initiated, labeled by provider.
	SearchesStarted *prometheus.CounterVec

	// SearchesCompleted counts successful provider searches, labeled by provider.
	SearchesCompleted *prometheus.CounterVec

	// SearchesFailed counts failed provider searches, labeled by provider and error kind.
	SearchesFailed *prometheus.CounterVec

	// SearchDuration observes provider search duration in seconds, labeled by provider.
	SearchDuration *prometheus.HistogramVec

	// PapersPerSearch observes the distribution of papers returned per search, labeled by provider.
	PapersPerSearch *prometheus.HistogramVec

	// PapersDeduplicated counts records dropped by deduplication.
	PapersDeduplicated prometheus.Counter

	// ProviderRateLimited counts rate-limit responses, labeled by provider.
	ProviderRateLimited *prometheus.CounterVec

	// BreakerTransitions counts circuit breaker state transitions, labeled by breaker and new state.
	BreakerTransitions *prometheus.CounterVec

	// MirrorHealth exposes per-mirror health as a gauge (1 healthy, 0.5 degraded, 0 unhealthy).
	MirrorHealth *prometheus.GaugeVec

	// PDFResolutions counts PDF URL resolution attempts, labeled by outcome.
	PDFResolutions *prometheus.CounterVec

	// DownloadsStarted counts downloads initiated.
	DownloadsStarted prometheus.Counter

	// DownloadsCompleted counts downloads that finished successfully.
	DownloadsCompleted prometheus.Counter

	// DownloadsFailed counts downloads that ended in failure.
	DownloadsFailed prometheus.Counter

	// DownloadsCancelled counts downloads cancelled by the caller.
	DownloadsCancelled prometheus.Counter

	// DownloadBytes counts bytes written to disk across all downloads.
	DownloadBytes prometheus.Counter

	// DownloadDuration observes download duration in seconds.
	DownloadDuration prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		MetaSearchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meta_searches_started_total",
			Help:      "Total number of meta-searches started",
		}),
		MetaSearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "meta_search_duration_seconds",
			Help:      "End-to-end duration of meta-searches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		SearchesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of provider searches started",
		}, []string{"provider"}),
		SearchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of provider searches completed",
		}, []string{"provider"}),
		SearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of provider searches that failed",
		}, []string{"provider", "error_kind"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of provider searches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		PapersPerSearch: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "papers_per_search",
			Help:      "Number of papers returned per provider search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}, []string{"provider"}),
		PapersDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_deduplicated_total",
			Help:      "Total number of records dropped by deduplication",
		}),

		ProviderRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rate_limited_total",
			Help:      "Total number of rate limit responses per provider",
		}, []string{"provider"}),
		BreakerTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		}, []string{"breaker", "state"}),
		MirrorHealth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_health",
			Help:      "Per-mirror health (1 healthy, 0.5 degraded, 0 unhealthy)",
		}, []string{"mirror"}),
		PDFResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdf_resolutions_total",
			Help:      "Total number of PDF URL resolution attempts by outcome",
		}, []string{"outcome"}),

		DownloadsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_started_total",
			Help:      "Total number of downloads started",
		}),
		DownloadsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_completed_total",
			Help:      "Total number of downloads completed successfully",
		}),
		DownloadsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_failed_total",
			Help:      "Total number of downloads that failed",
		}),
		DownloadsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_cancelled_total",
			Help:      "Total number of downloads cancelled",
		}),
		DownloadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Total bytes written to disk by downloads",
		}),
		DownloadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of downloads in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
}

// RecordMetaSearch records a completed meta-search.
func (m *Metrics) RecordMetaSearch(durationSeconds float64) {
	m.MetaSearchesStarted.Inc()
	m.MetaSearchDuration.Observe(durationSeconds)
}

// RecordSearchStarted records that a provider search has started.
func (m *Metrics) RecordSearchStarted(provider string) {
	m.SearchesStarted.WithLabelValues(provider).Inc()
}

// RecordSearchCompleted records that a provider search has completed.
func (m *Metrics) RecordSearchCompleted(provider string, paperCount int, durationSeconds float64) {
	m.SearchesCompleted.WithLabelValues(provider).Inc()
	m.SearchDuration.WithLabelValues(provider).Observe(durationSeconds)
	m.PapersPerSearch.WithLabelValues(provider).Observe(float64(paperCount))
}

// RecordSearchFailed records that a provider search has failed.
func (m *Metrics) RecordSearchFailed(provider, errorKind string, durationSeconds float64) {
	m.SearchesFailed.WithLabelValues(provider, errorKind).Inc()
	m.SearchDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordDeduplicated records records dropped by deduplication.
func (m *Metrics) RecordDeduplicated(count int) {
	m.PapersDeduplicated.Add(float64(count))
}

// RecordRateLimited records a rate limit response from a provider.
func (m *Metrics) RecordRateLimited(provider string) {
	m.ProviderRateLimited.WithLabelValues(provider).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(breaker, state string) {
	m.BreakerTransitions.WithLabelValues(breaker, state).Inc()
}

// RecordMirrorHealth records a mirror's current health as a gauge value.
func (m *Metrics) RecordMirrorHealth(mirror string, value float64) {
	m.MirrorHealth.WithLabelValues(mirror).Set(value)
}

// RecordPDFResolution records a PDF URL resolution attempt.
func (m *Metrics) RecordPDFResolution(outcome string) {
	m.PDFResolutions.WithLabelValues(outcome).Inc()
}

// RecordDownloadStarted records that a download has started.
func (m *Metrics) RecordDownloadStarted() {
	m.DownloadsStarted.Inc()
}

// RecordDownloadCompleted records a successful download.
func (m *Metrics) RecordDownloadCompleted(bytes int64, durationSeconds float64) {
	m.DownloadsCompleted.Inc()
	m.DownloadBytes.Add(float64(bytes))
	m.DownloadDuration.Observe(durationSeconds)
}

// RecordDownloadFailed records a failed download.
func (m *Metrics) RecordDownloadFailed() {
	m.DownloadsFailed.Inc()
}

// RecordDownloadCancelled records a cancelled download.
func (m *Metrics) RecordDownloadCancelled() {
	m.DownloadsCancelled.Inc()
}
