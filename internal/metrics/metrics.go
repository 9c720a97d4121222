// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Transfers of large release assets run far longer than API calls.
var transferBuckets = []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	RelayOutcomes    *prometheus.CounterVec
	RelayBytes       prometheus.Counter
	RelayDuration    prometheus.Histogram
	StreamsActive    prometheus.Gauge
	AllowlistReloads *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "github_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "github_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds, including streamed bodies.",
			Buckets: transferBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "github_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "github_relay_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers arrive, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "github_relay_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		RelayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "github_relay_relays_total",
			Help: "Relay attempts by outcome (ok, client_gone, or failure kind).",
		}, []string{"outcome"}),

		RelayBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "github_relay_bytes_forwarded_total",
			Help: "Body bytes forwarded to clients.",
		}),

		RelayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "github_relay_transfer_duration_seconds",
			Help:    "Duration of body transfers to clients in seconds.",
			Buckets: transferBuckets,
		}),

		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "github_relay_streams_active",
			Help: "Number of bodies currently being streamed to clients.",
		}),

		AllowlistReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "github_relay_allowlist_reloads_total",
			Help: "Allowlist file reload attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RelayOutcomes,
		m.RelayBytes,
		m.RelayDuration,
		m.StreamsActive,
		m.AllowlistReloads,
	)

	return m
}

// ObserveAllowlistReload records the result of an allowlist reload.
func (m *Metrics) ObserveAllowlistReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AllowlistReloads.WithLabelValues(result).Inc()
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/download", "/github", "/status", "/health", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	if path == "/" {
		return "/"
	}
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
