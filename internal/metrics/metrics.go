// Package metrics provides Prometheus metrics for the archive server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Pinning service metrics
	pinOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_pin_operations_total",
			Help: "Total pinning service operations",
		},
		[]string{"operation", "status"},
	)

	pinOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_pin_operation_duration_seconds",
			Help:    "Pinning service operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	pinnedBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_pinned_bytes_uploaded_total",
			Help: "Total bytes uploaded to the pinning service",
		},
	)

	// Gateway resolver metrics
	gatewayProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_gateway_probes_total",
			Help: "Total gateway probe attempts",
		},
		[]string{"gateway", "status"},
	)

	gatewayResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_gateway_resolutions_total",
			Help: "Total gateway resolutions by final outcome",
		},
		[]string{"status"},
	)

	// Catalog metrics
	catalogFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_catalog_fetches_total",
			Help: "Total catalog page fetches",
		},
		[]string{"mode", "status"},
	)

	catalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_catalog_records",
			Help: "Number of deduplicated records held by the catalog",
		},
	)

	// Engagement metrics
	likeUpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_like_upserts_total",
			Help: "Total like/dislike upserts",
		},
		[]string{"action"},
	)

	downloadEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_download_events_total",
			Help: "Total recorded download events",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Rate limiting metrics
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPinOperation records a pinning service operation.
func RecordPinOperation(operation string, duration time.Duration, success bool) {
	pinOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	pinOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordPinnedBytes records bytes uploaded to the pinning service.
func RecordPinnedBytes(n int64) {
	pinnedBytesUploaded.Add(float64(n))
}

// RecordGatewayProbe records a single gateway probe attempt.
func RecordGatewayProbe(gateway string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	gatewayProbesTotal.WithLabelValues(gateway, status).Inc()
}

// RecordGatewayResolution records the final outcome of a resolution.
func RecordGatewayResolution(success bool) {
	status := "resolved"
	if !success {
		status = "exhausted"
	}
	gatewayResolutionsTotal.WithLabelValues(status).Inc()
}

// RecordCatalogFetch records a catalog page fetch.
func RecordCatalogFetch(mode string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	catalogFetchesTotal.WithLabelValues(mode, status).Inc()
}

// SetCatalogSize sets the current catalog record count.
func SetCatalogSize(n int) {
	catalogSize.Set(float64(n))
}

// RecordLikeUpsert records a like/dislike upsert.
func RecordLikeUpsert(action string) {
	likeUpsertsTotal.WithLabelValues(action).Inc()
}

// RecordDownloadEvent records a download event.
func RecordDownloadEvent() {
	downloadEventsTotal.Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
