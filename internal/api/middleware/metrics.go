// Package middleware provides HTTP middleware components for the JSON Remodeler server.
// This file contains Prometheus metrics middleware for observability.
package middleware

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonremodeler_http_requests_total",
			Help: "HTTP requests served, by method, normalized path and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsonremodeler_http_request_duration_seconds",
			Help:    "Wall-clock time spent serving a request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Documents and recovered outputs can span many megabytes, so the size
	// buckets run from 100 bytes up by powers of ten.
	httpRequestSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsonremodeler_http_request_size_bytes",
			Help:    "Request body sizes in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	httpResponseSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsonremodeler_http_response_size_bytes",
			Help:    "Response body sizes in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jsonremodeler_active_connections",
			Help: "HTTP requests currently in flight",
		},
	)

	// activeConnectionsCount mirrors the gauge for cheap reads without
	// touching the prometheus registry.
	activeConnectionsCount int64

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonremodeler_runs_total",
			Help: "Remodeling runs, by entry mode and terminal status",
		},
		[]string{"mode", "status"},
	)

	unitsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonremodeler_units_processed_total",
			Help: "Work units sent through the collaborator model",
		},
		[]string{"model"},
	)

	arraysExtractedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jsonremodeler_arrays_extracted_total",
			Help: "Oversized arrays lifted out of input documents",
		},
	)

	promptTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonremodeler_prompt_tokens_total",
			Help: "Prompt tokens measured across planned work units",
		},
		[]string{"model"},
	)

	collaboratorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonremodeler_collaborator_errors_total",
			Help: "Collaborator request failures, by error type",
		},
		[]string{"error_type", "model"},
	)

	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers every collector with the default registry. Safe
// to call repeatedly; only the first call registers.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}

	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestSizeBytes,
		httpResponseSizeBytes,
		activeConnections,
		runsTotal,
		unitsProcessedTotal,
		arraysExtractedTotal,
		promptTokensTotal,
		collaboratorErrors,
	)
}

// PrometheusMiddleware returns a Gin middleware that observes request
// counts, latencies, body sizes and in-flight connections. The /metrics
// endpoint itself is exempt so scrapes do not feed back into the numbers.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		RegisterMetrics()

		atomic.AddInt64(&activeConnectionsCount, 1)
		activeConnections.Inc()
		defer func() {
			atomic.AddInt64(&activeConnectionsCount, -1)
			activeConnections.Dec()
		}()

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method
		if c.Request.ContentLength > 0 {
			httpRequestSizeBytes.WithLabelValues(method, path).Observe(float64(c.Request.ContentLength))
		}

		start := time.Now()
		c.Next()

		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size > 0 {
			httpResponseSizeBytes.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

// canonicalRoutes folds the root-level mirrors onto their /v1 forms so both
// spellings share one label value.
var canonicalRoutes = map[string]string{
	"/":             "/",
	"/healthz":      "/healthz",
	"/metrics":      "/metrics",
	"/remodel":      "/v1/remodel",
	"/v1/remodel":   "/v1/remodel",
	"/decompose":    "/v1/decompose",
	"/v1/decompose": "/v1/decompose",
	"/runs":         "/v1/runs",
	"/v1/runs":      "/v1/runs",
}

// normalizePath maps request paths onto a bounded label set. Unknown paths
// pass through truncated so a scanner cannot blow up label cardinality.
func normalizePath(path string) string {
	if canonical, ok := canonicalRoutes[path]; ok {
		return canonical
	}
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}

// MetricsHandler returns the Prometheus scrape handler for /metrics, or a
// 404 while metrics are disabled.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// GetActiveConnections returns the current number of in-flight requests.
func GetActiveConnections() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

// RecordRun records a finished remodeling run. mode names the entry point
// ("remodel", "serve", "prepare-batch") and status its terminal state.
func RecordRun(mode, status string) {
	if !IsMetricsEnabled() {
		return
	}
	runsTotal.WithLabelValues(mode, status).Inc()
}

// RecordUnitsProcessed adds processed work units for the given model.
func RecordUnitsProcessed(model string, units int) {
	if !IsMetricsEnabled() {
		return
	}
	if units > 0 {
		unitsProcessedTotal.WithLabelValues(model).Add(float64(units))
	}
}

// RecordArraysExtracted adds to the extracted array counter.
func RecordArraysExtracted(count int) {
	if !IsMetricsEnabled() {
		return
	}
	if count > 0 {
		arraysExtractedTotal.Add(float64(count))
	}
}

// RecordPromptTokens records prompt tokens measured for a model.
func RecordPromptTokens(model string, tokens int) {
	if !IsMetricsEnabled() {
		return
	}
	if tokens > 0 {
		promptTokensTotal.WithLabelValues(model).Add(float64(tokens))
	}
}

// RecordCollaboratorError records a collaborator call failure. errorType
// names the failure class ("rate_limit", "network", "malformed").
func RecordCollaboratorError(errorType, model string) {
	if !IsMetricsEnabled() {
		return
	}
	collaboratorErrors.WithLabelValues(errorType, model).Inc()
}
