// Package metrics exposes Prometheus collectors for the order desk.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor holds every collector on its own registry
// ⭐ SSOT: 모든 메트릭은 여기서만 정의
type Monitor struct {
	registry *prometheus.Registry

	ordersCreated   prometheus.Counter
	orderActions    *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	actionsInFlight prometheus.Gauge

	brokerRequests *prometheus.CounterVec
	brokerLatency  *prometheus.HistogramVec

	streamEvents     *prometheus.CounterVec
	streamReconnects prometheus.Counter

	jobRuns *prometheus.CounterVec
}

// New creates a Monitor under the given namespace
func New(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,

		ordersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders accepted by the create endpoint",
		}),
		orderActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_actions_total",
			Help:      "Per-order sync/delete actions by outcome",
		}, []string{"action", "outcome"}),
		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_action_duration_seconds",
			Help:      "Latency of per-order actions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		actionsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "order_actions_in_flight",
			Help:      "Orders with a pending sync or delete",
		}),

		brokerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "Brokerage REST requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		brokerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "request_duration_seconds",
			Help:      "Brokerage REST latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Trade update events received",
		}, []string{"event"}),
		streamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Trade update stream reconnect attempts",
		}),

		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by result",
		}, []string{"job", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOrderCreated counts an accepted create request
func (m *Monitor) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// ActionStarted marks an order action as in flight
func (m *Monitor) ActionStarted(action string) {
	m.actionsInFlight.Inc()
}

// ActionFinished records the outcome and latency of an order action
func (m *Monitor) ActionFinished(action, outcome string, elapsed time.Duration) {
	m.actionsInFlight.Dec()
	m.orderActions.WithLabelValues(action, outcome).Inc()
	m.actionDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// RecordBrokerRequest records one brokerage REST call
func (m *Monitor) RecordBrokerRequest(endpoint, status string, elapsed time.Duration) {
	m.brokerRequests.WithLabelValues(endpoint, status).Inc()
	m.brokerLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordStreamEvent counts a trade update event
func (m *Monitor) RecordStreamEvent(event string) {
	m.streamEvents.WithLabelValues(event).Inc()
}

// RecordStreamReconnect counts a stream reconnect attempt
func (m *Monitor) RecordStreamReconnect() {
	m.streamReconnects.Inc()
}

// RecordJobRun counts a scheduled job execution
func (m *Monitor) RecordJobRun(job string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}
