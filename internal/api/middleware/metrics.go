// Package middleware provides HTTP middleware for the API server, including
// Prometheus metrics and request authentication.
package middleware

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/monoturn/monoturn/internal/conversation"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monoturn_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monoturn_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "monoturn_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	collapseToolResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "monoturn_collapse_tool_results_total",
			Help: "Tool result entries processed by the collapse pipeline",
		},
	)

	collapseStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monoturn_collapse_stops_total",
			Help: "Tool results replaced by loop detection, by rule",
		},
		[]string{"rule"},
	)

	collapseReuses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "monoturn_collapse_envelope_reuses_total",
			Help: "Collapses that reused a previously wrapped turn",
		},
	)

	metricsRegistered atomic.Bool
)

// RegisterMetrics registers all Prometheus metrics. Safe to call more than
// once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		activeConnections,
		collapseToolResults,
		collapseStops,
		collapseReuses,
	)
}

// PrometheusMiddleware collects request count, duration, and connection
// gauge for every request except the metrics endpoint itself.
func PrometheusMiddleware() gin.HandlerFunc {
	RegisterMetrics()
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		activeConnections.Inc()
		defer activeConnections.Dec()

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordCollapse feeds one collapse pass into the metrics.
func RecordCollapse(stats conversation.Stats) {
	collapseToolResults.Add(float64(stats.ToolResults))
	if stats.NoOutputStops > 0 {
		collapseStops.WithLabelValues("no_output").Add(float64(stats.NoOutputStops))
	}
	if stats.IdenticalStops > 0 {
		collapseStops.WithLabelValues("identical").Add(float64(stats.IdenticalStops))
	}
	if stats.FamilyStops > 0 {
		collapseStops.WithLabelValues("family").Add(float64(stats.FamilyStops))
	}
	if stats.GlobalStops > 0 {
		collapseStops.WithLabelValues("global").Add(float64(stats.GlobalStops))
	}
	if stats.Reused {
		collapseReuses.Inc()
	}
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	RegisterMetrics()
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// normalizePath keeps metric label cardinality bounded.
func normalizePath(path string) string {
	switch {
	case path == "/", path == "/healthz", path == "/metrics":
		return path
	case path == "/v1/models" || path == "/models":
		return "/v1/models"
	case path == "/v1/chat/completions" || path == "/chat/completions":
		return "/v1/chat/completions"
	case len(path) > 11 && path[:11] == "/v1/models/":
		return "/v1/models/:id"
	default:
		if len(path) > 50 {
			return path[:50] + "..."
		}
		return path
	}
}
