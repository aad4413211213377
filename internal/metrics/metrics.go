// Package metrics provides Prometheus instrumentation for the token service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path pattern, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadogy",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cadogy",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LedgerOperationsTotal counts balance mutations by operation and result.
	LedgerOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadogy",
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by operation kind and result.",
		},
		[]string{"operation", "result"},
	)

	// LedgerCASRetriesTotal counts compare-and-set retries in the ledger service.
	LedgerCASRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cadogy",
			Name:      "ledger_cas_retries_total",
			Help:      "Total compare-and-set retries during balance mutations.",
		},
	)

	// LedgerAppendFailuresTotal counts audit entries lost after a committed
	// balance write. Non-zero values mean Reconcile will report gaps.
	LedgerAppendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cadogy",
			Name:      "ledger_append_failures_total",
			Help:      "Ledger entry appends that failed after the balance was committed.",
		},
	)

	// WebhookEventsTotal counts payment webhook deliveries by outcome.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadogy",
			Name:      "webhook_events_total",
			Help:      "Total payment webhook events by outcome (credited, duplicate, invalid, failed).",
		},
		[]string{"outcome"},
	)

	// NotificationsTotal counts purchase-confirmation email attempts by result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadogy",
			Name:      "notifications_total",
			Help:      "Total notification dispatches by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected realtime feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cadogy",
			Name:      "active_websocket_clients",
			Help:      "Number of connected realtime feed clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LedgerOperationsTotal,
		LedgerCASRetriesTotal,
		LedgerAppendFailuresTotal,
		WebhookEventsTotal,
		NotificationsTotal,
		ActiveWebSocketClients,
	)
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
