// Package metrics provides Prometheus metrics for the DriveDeck server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivedeck_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivedeck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Façade metrics
	facadeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivedeck_facade_operations_total",
			Help: "Drive façade operations by outcome",
		},
		[]string{"operation", "result"},
	)

	facadeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivedeck_facade_operation_duration_seconds",
			Help:    "Drive façade operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	breadcrumbDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drivedeck_breadcrumb_depth",
			Help:    "Number of elements in resolved breadcrumbs",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 32, 64},
		},
	)

	// Content transfer metrics
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivedeck_content_bytes_downloaded_total",
			Help: "Total bytes streamed to browsers",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivedeck_content_bytes_uploaded_total",
			Help: "Total bytes uploaded to the remote store",
		},
	)

	contentDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivedeck_content_downloads_total",
			Help: "Total number of content downloads",
		},
		[]string{"status"},
	)

	contentUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivedeck_content_uploads_total",
			Help: "Total number of content uploads",
		},
		[]string{"status"},
	)

	// Remote store metrics
	remoteOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivedeck_remote_operation_duration_seconds",
			Help:    "Remote store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	remoteOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivedeck_remote_operations_total",
			Help: "Total remote store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivedeck_auth_attempts_total",
			Help: "Total OAuth sign-in attempts",
		},
		[]string{"result"},
	)

	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivedeck_token_refreshes_total",
			Help: "Total OAuth access token refreshes",
		},
		[]string{"result"},
	)

	// Session store metrics
	sessionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivedeck_session_operations_total",
			Help: "Total session store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivedeck_rate_limit_hits_total",
			Help: "Requests rejected by the per-session rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordFacadeOperation records one façade call. result is the error
// category, or "ok".
func RecordFacadeOperation(operation, result string, success bool, duration time.Duration) {
	if success {
		result = "ok"
	}
	facadeOperationsTotal.WithLabelValues(operation, result).Inc()
	facadeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveBreadcrumbDepth records the length of a resolved breadcrumb.
func ObserveBreadcrumbDepth(n int) {
	breadcrumbDepth.Observe(float64(n))
}

// RecordDownload records a content download.
func RecordDownload(bytes int64, success bool) {
	contentBytesDownloaded.Add(float64(bytes))
	contentDownloadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordUpload records a content upload.
func RecordUpload(bytes int64, success bool) {
	contentBytesUploaded.Add(float64(bytes))
	contentUploadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordRemoteOperation records a call against the remote store.
func RecordRemoteOperation(backend, operation string, duration time.Duration, success bool) {
	remoteOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	remoteOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordAuthAttempt records an OAuth sign-in attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordTokenRefresh records an access token refresh.
func RecordTokenRefresh(success bool) {
	tokenRefreshesTotal.WithLabelValues(status(success)).Inc()
}

// RecordSessionOperation records a session store operation.
func RecordSessionOperation(backend, operation string, success bool) {
	sessionOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordRateLimitHit records a rate-limited request.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Route reduces a request path to its first segment so item identifiers
// do not become label values.
func Route(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "/"
	}
	if i := strings.Index(trimmed, "/"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "api" {
		return "/api"
	}
	return "/" + trimmed
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, Route(r.URL.Path), rw.statusCode, time.Since(start))
	})
}
