// Package metrics defines custom Prometheus metrics for Sealbox.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealbox_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sealbox_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sealbox_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sealbox_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Upload store metrics.
var (
	// SessionsCreatedTotal counts upload sessions created.
	SessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sealbox_upload_sessions_created_total",
			Help: "Upload sessions created",
		},
	)

	// ChunksAppendedTotal counts successful chunk appends.
	ChunksAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sealbox_upload_chunks_appended_total",
			Help: "Chunks appended to upload sessions",
		},
	)

	// ChunkBytesTotal counts bytes durably appended to upload sessions.
	ChunkBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sealbox_upload_chunk_bytes_total",
			Help: "Bytes appended to upload sessions",
		},
	)

	// OffsetConflictsTotal counts appends rejected with an offset mismatch.
	OffsetConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sealbox_upload_offset_conflicts_total",
			Help: "Appends rejected due to a stale or contended offset",
		},
	)

	// UploadsFinalizedTotal counts sessions finalized into permanent blobs.
	UploadsFinalizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sealbox_uploads_finalized_total",
			Help: "Upload sessions finalized into permanent blobs",
		},
	)

	// SessionsReapedTotal counts abandoned sessions deleted by the reaper.
	SessionsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sealbox_upload_sessions_reaped_total",
			Help: "Abandoned upload sessions deleted by the reaper",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			HTTPResponseSize,
			SessionsCreatedTotal,
			ChunksAppendedTotal,
			ChunkBytesTotal,
			OffsetConflictsTotal,
			UploadsFinalizedTotal,
			SessionsReapedTotal,
		)
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual session and blob ids.
func NormalizePath(path string) string {
	switch path {
	case "/health":
		return "/health"
	case "/metrics":
		return "/metrics"
	case "/openapi.json":
		return "/openapi.json"
	case "/uploads", "/uploads/":
		return "/uploads"
	case "/", "":
		return "/"
	}

	// Starts with /docs (Stoplight Elements assets).
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/uploads/") {
		return "/uploads/{id}"
	}
	if strings.HasPrefix(path, "/blobs/") {
		return "/blobs/{id}"
	}
	return "/other"
}
