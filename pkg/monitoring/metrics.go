package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Policy outcome metrics
	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_lookups_total",
			Help: "Total number of response cache lookups",
		},
		[]string{"route", "outcome"},
	)

	authRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_refresh_total",
			Help: "Total number of coordinated token refresh attempts",
		},
		[]string{"status"},
	)

	// Ledger metrics
	ledgerQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ledger_queries_total",
			Help: "Total number of ledger peer queries",
		},
		[]string{"function", "status"},
	)

	ledgerQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_ledger_query_duration_seconds",
			Help:    "Duration of ledger peer queries in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"function"},
	)

	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_ledger_session_state",
			Help: "Current ledger session state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)
)

var registerOnce sync.Once

// MetricsCollector handles Prometheus metrics collection for the gateway
type MetricsCollector struct{}

// NewMetricsCollector creates a new metrics collector and registers the
// gateway collectors exactly once
func NewMetricsCollector() *MetricsCollector {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			rateLimitedTotal,
			cacheLookupsTotal,
			authRefreshTotal,
			ledgerQueriesTotal,
			ledgerQueryDuration,
			sessionState,
		)
	})
	return &MetricsCollector{}
}

// RecordRequest records a completed HTTP request
func (mc *MetricsCollector) RecordRequest(method, route string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRateLimited records a rate limiter rejection
func (mc *MetricsCollector) RecordRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(route).Inc()
}

// RecordCacheLookup records a cache hit or miss
func (mc *MetricsCollector) RecordCacheLookup(route string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookupsTotal.WithLabelValues(route, outcome).Inc()
}

// RecordAuthRefresh records the outcome of a coordinated token refresh
func (mc *MetricsCollector) RecordAuthRefresh(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	authRefreshTotal.WithLabelValues(status).Inc()
}

// RecordLedgerQuery records a ledger peer query
func (mc *MetricsCollector) RecordLedgerQuery(function string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	ledgerQueriesTotal.WithLabelValues(function, status).Inc()
	ledgerQueryDuration.WithLabelValues(function).Observe(duration.Seconds())
}

// SetSessionState reflects the ledger session state as a one-hot gauge
func (mc *MetricsCollector) SetSessionState(state string) {
	for _, s := range []string{"UNINITIALIZED", "CONNECTING", "READY", "DEGRADED", "CLOSED"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}
