// Package observability provides logging and metrics support for the paper
// retrieval service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for searches, downloads, and provider resilience
//   - Context helpers for propagating request data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stderr",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("provider", "arxiv").Msg("search started")
//
// Stdout carries the JSON-RPC stream, so logs always go to stderr.
//
// Add request context to a logger:
//
//	logger = observability.WithRequestContext(logger, method, requestID)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("paper_retrieval")
//
// Record metrics:
//
//	metrics.RecordSearchStarted("arxiv")
//	metrics.RecordDownloadCompleted(bytes, seconds)
//
// # Context Helpers
//
// Store and retrieve request data:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	reqID := observability.RequestIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: JSON-RPC request identifier
//   - method: JSON-RPC method name
//   - provider: search provider (arxiv, crossref, scihub)
//   - query: search query text
//   - search_type: query interpretation (doi, title, author, ...)
//   - download_id: download task identifier
//   - mirror: Sci-Hub mirror URL
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
