package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes engine, consumer and feed counters to Prometheus.
// Each instance owns its registry so tests can build as many as they like.
// All methods are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	eventsProcessed *prometheus.CounterVec // by ingest type
	results         *prometheus.CounterVec // by result type
	orderErrors     *prometheus.CounterVec // by status code
	liquidations    prometheus.Counter
	decodeErrors    prometheus.Counter
	appendFailures  prometheus.Counter
	ackFailures     prometheus.Counter
	handlerFailures prometheus.Counter
	handleLatency   prometheus.Histogram

	consumerState     prometheus.Gauge
	openPositions     prometheus.Gauge
	activeConnections prometheus.Gauge
	quotesPublished   prometheus.Counter
}

// NewMetrics registers all collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := func(c prometheus.Collector) { reg.MustRegister(c) }

	m := &Metrics{
		registry: reg,
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_processed_total", Help: "Ingest events applied, by type.",
		}, []string{"type"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "results_total", Help: "Result events produced, by type.",
		}, []string{"type"}),
		orderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_errors_total", Help: "Rejected orders, by status code.",
		}, []string{"code"}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "liquidations_total", Help: "Positions closed by liquidation.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "decode_errors_total", Help: "Malformed or unknown entries acknowledged without result.",
		}),
		appendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "append_failures_total", Help: "Failed result append attempts.",
		}),
		ackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ack_failures_total", Help: "Failed XACK calls.",
		}),
		handlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handler_failures_total", Help: "Entries left pending after a handler error.",
		}),
		handleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "handle_seconds", Help: "Time to apply one entry and append its results.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		consumerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "consumer_state", Help: "Consumer state machine position.",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions", Help: "Positions currently in the book.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_connections", Help: "Open price feed websocket connections.",
		}),
		quotesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "quotes_published_total", Help: "PRICE_UPDATE events appended by the poller.",
		}),
	}

	f(m.eventsProcessed)
	f(m.results)
	f(m.orderErrors)
	f(m.liquidations)
	f(m.decodeErrors)
	f(m.appendFailures)
	f(m.ackFailures)
	f(m.handlerFailures)
	f(m.handleLatency)
	f(m.consumerState)
	f(m.openPositions)
	f(m.activeConnections)
	f(m.quotesPublished)
	f(collectors.NewGoCollector())
	f(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordEvent records an applied ingest event with its handling latency.
func (m *Metrics) RecordEvent(eventType string, latency time.Duration) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(eventType).Inc()
	m.handleLatency.Observe(latency.Seconds())
}

// RecordResult counts one produced result.
func (m *Metrics) RecordResult(resultType string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(resultType).Inc()
}

// RecordOrderError counts a business rejection.
func (m *Metrics) RecordOrderError(code string) {
	if m == nil {
		return
	}
	m.orderErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) RecordAppendFailure() {
	if m == nil {
		return
	}
	m.appendFailures.Inc()
}

func (m *Metrics) RecordAckFailure() {
	if m == nil {
		return
	}
	m.ackFailures.Inc()
}

func (m *Metrics) RecordHandlerFailure() {
	if m == nil {
		return
	}
	m.handlerFailures.Inc()
}

// SetConsumerState publishes the consumer state as its ordinal.
func (m *Metrics) SetConsumerState(state int) {
	if m == nil {
		return
	}
	m.consumerState.Set(float64(state))
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) RecordQuotesPublished() {
	if m == nil {
		return
	}
	m.quotesPublished.Inc()
}
