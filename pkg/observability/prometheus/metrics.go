// Package prometheus exposes the todosync metrics.
//
// Every recording method is safe on a nil *Metrics, so components can take
// an optional metrics handle without guarding each call.
package prometheus

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer labels every metric with the service name
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "todosync"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Optimistic mutation outcomes: applied, confirmed, rolled_back, rejected
	MutationsTotal *prometheus.CounterVec

	// Remote round-trip latency seen by the mutation manager
	MutationDuration *prometheus.HistogramVec

	// Reconciler event outcomes: applied, ignored, malformed
	ReconcilerEventsTotal *prometheus.CounterVec
	ReconnectsTotal       prometheus.Counter
	RealtimeConnected     prometheus.Gauge

	// Feed metrics
	FeedSubscribersActive prometheus.Gauge
	FeedEventsPublished   *prometheus.CounterVec

	// Realtime websocket clients attached to this server
	RealtimeClients prometheus.Gauge

	// Database pool metrics
	DatabaseConnectionsOpen  prometheus.Gauge
	DatabaseConnectionsIdle  prometheus.Gauge
	DatabaseConnectionsInUse prometheus.Gauge
	DatabaseQueryDuration    *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(DefaultRegisterer, DefaultRegistry)
		DefaultRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return metrics
}

// NewMetrics creates a metrics set on its own registry. Tests use this to
// avoid duplicate registration against the global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return newMetrics(reg, reg)
}

func newMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "todosync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "todosync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		MutationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "todosync_mutations_total",
				Help: "Optimistic mutations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		MutationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "todosync_mutation_roundtrip_seconds",
				Help:    "Remote round-trip time of optimistic mutations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		ReconcilerEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "todosync_reconciler_events_total",
				Help: "Inbound change events by outcome",
			},
			[]string{"outcome"},
		),
		ReconnectsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "todosync_reconciler_reconnects_total",
				Help: "Realtime subscription reconnect attempts",
			},
		),
		RealtimeConnected: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "todosync_reconciler_connected",
				Help: "1 while the realtime subscription is connected",
			},
		),
		FeedSubscribersActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "todosync_feed_subscribers",
				Help: "Live change feed subscriptions",
			},
		),
		FeedEventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "todosync_feed_events_published_total",
				Help: "Change events published by kind",
			},
			[]string{"kind"},
		),
		RealtimeClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "todosync_realtime_clients",
				Help: "Connected realtime websocket clients",
			},
		),
		DatabaseConnectionsOpen: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "todosync_database_connections_open",
				Help: "Number of open database connections",
			},
		),
		DatabaseConnectionsIdle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "todosync_database_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DatabaseConnectionsInUse: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "todosync_database_connections_in_use",
				Help: "Number of in-use database connections",
			},
		),
		DatabaseQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "todosync_database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		gatherer: gatherer,
	}
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Mutation counts one mutation outcome
func (m *Metrics) Mutation(op, outcome string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(op, outcome).Inc()
}

// MutationRoundTrip observes the remote latency of one mutation
func (m *Metrics) MutationRoundTrip(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.MutationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ReconcilerEvent counts one inbound event outcome
func (m *Metrics) ReconcilerEvent(outcome string) {
	if m == nil {
		return
	}
	m.ReconcilerEventsTotal.WithLabelValues(outcome).Inc()
}

// Reconnect counts a reconnect attempt
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

// SetConnected flips the realtime connected gauge
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.RealtimeConnected.Set(1)
		return
	}
	m.RealtimeConnected.Set(0)
}

// FeedSubscribers adjusts the live subscription gauge by delta
func (m *Metrics) FeedSubscribers(delta int) {
	if m == nil {
		return
	}
	m.FeedSubscribersActive.Add(float64(delta))
}

// FeedPublished counts a published event
func (m *Metrics) FeedPublished(kind string) {
	if m == nil {
		return
	}
	m.FeedEventsPublished.WithLabelValues(kind).Inc()
}

// RealtimeClientsDelta adjusts the websocket client gauge by delta
func (m *Metrics) RealtimeClientsDelta(delta int) {
	if m == nil {
		return
	}
	m.RealtimeClients.Add(float64(delta))
}

// UpdateDatabasePool updates database pool metrics
func (m *Metrics) UpdateDatabasePool(open, idle, inUse int) {
	if m == nil {
		return
	}
	m.DatabaseConnectionsOpen.Set(float64(open))
	m.DatabaseConnectionsIdle.Set(float64(idle))
	m.DatabaseConnectionsInUse.Set(float64(inUse))
}

// RecordDatabaseQuery records database query duration
func (m *Metrics) RecordDatabaseQuery(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
