// Package metrics holds the Prometheus collectors of the card service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the application. A nil *Registry is valid
// and records nothing.
type Registry struct {
	// Statistics Metrics
	StatisticsRequestsTotal   *prometheus.CounterVec
	StatisticsRequestDuration prometheus.Histogram
	StatisticsStaleResponses  prometheus.Counter
	StatisticsIDs             prometheus.Gauge

	// Graph Metrics
	GraphUpdatesTotal *prometheus.CounterVec
	GraphSubHomes     prometheus.Gauge

	// State Source Metrics
	StateEventsTotal *prometheus.CounterVec

	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
	}
	r.initStatisticsMetrics()
	r.initGraphMetrics()
	r.initHTTPMetrics()
	return r
}

func (r *Registry) initStatisticsMetrics() {
	r.StatisticsRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcard_statistics_requests_total",
			Help: "Total number of batched statistics requests by outcome",
		},
		[]string{"status"},
	)

	r.StatisticsRequestDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowcard_statistics_request_duration_seconds",
			Help:    "Statistics request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.StatisticsStaleResponses = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "flowcard_statistics_stale_responses_total",
			Help: "Statistics responses discarded because a newer request was issued",
		},
	)

	r.StatisticsIDs = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flowcard_statistics_ids",
			Help: "Number of distinct statistic ids in the last request",
		},
	)
}

func (r *Registry) initGraphMetrics() {
	r.GraphUpdatesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcard_graph_updates_total",
			Help: "Total number of graph recomputations by cause",
		},
		[]string{"cause"},
	)

	r.GraphSubHomes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flowcard_graph_sub_homes",
			Help: "Number of sub homes in the current topology",
		},
	)

	r.StateEventsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcard_state_events_total",
			Help: "Total number of entity state updates received by source",
		},
		[]string{"source"},
	)
}

func (r *Registry) initHTTPMetrics() {
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// RecordStatisticsRequest records a batched statistics request
func (r *Registry) RecordStatisticsRequest(status string, ids int, duration time.Duration) {
	if r == nil {
		return
	}
	r.StatisticsRequestsTotal.WithLabelValues(status).Inc()
	r.StatisticsRequestDuration.Observe(duration.Seconds())
	r.StatisticsIDs.Set(float64(ids))
}

// RecordStaleResponse records a discarded out-of-order statistics response
func (r *Registry) RecordStaleResponse() {
	if r == nil {
		return
	}
	r.StatisticsStaleResponses.Inc()
}

// RecordGraphUpdate records a recomputation of the graph
func (r *Registry) RecordGraphUpdate(cause string) {
	if r == nil {
		return
	}
	r.GraphUpdatesTotal.WithLabelValues(cause).Inc()
}

// SetSubHomes records the size of the sub home tree
func (r *Registry) SetSubHomes(n int) {
	if r == nil {
		return
	}
	r.GraphSubHomes.Set(float64(n))
}

// RecordStateEvent records an entity state update
func (r *Registry) RecordStateEvent(source string) {
	if r == nil {
		return
	}
	r.StateEventsTotal.WithLabelValues(source).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
