// Package metrics provides Prometheus instrumentation for the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics (optional HTTP/WebSocket surface).
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clauderon_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clauderon_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Control-socket metrics.
var (
	ControlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clauderon_control_requests_total",
		Help: "Total number of control-socket requests by type and outcome.",
	}, []string{"request_type", "code"})

	ControlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clauderon_control_request_duration_seconds",
		Help:    "Control-socket request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"request_type"})
)

// Business metrics.
var (
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clauderon_active_sessions",
		Help: "Number of sessions by status.",
	}, []string{"status"})

	ActiveProxies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clauderon_active_proxies",
		Help: "Number of currently running per-session HTTP auth proxies.",
	})

	ActivePTYs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clauderon_active_ptys",
		Help: "Number of currently attached PTYs.",
	})

	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clauderon_proxy_requests_total",
		Help: "Total number of requests handled by per-session HTTP auth proxies.",
	}, []string{"host", "blocked"})

	ProxyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clauderon_proxy_request_duration_seconds",
		Help:    "Upstream request duration as seen by the per-session HTTP auth proxy.",
		Buckets: prometheus.DefBuckets,
	}, []string{"host"})

	ReconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clauderon_reconcile_runs_total",
		Help: "Total number of reconcile passes executed.",
	})
)

// WebSocket metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clauderon_ws_connections_active",
		Help: "Number of active WebSocket connections.",
	})

	WSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clauderon_ws_messages_total",
		Help: "Total number of WebSocket messages sent.",
	})
)
