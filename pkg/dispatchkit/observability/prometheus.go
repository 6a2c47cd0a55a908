package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics implements MetricsRecorder using Prometheus collectors.
type promMetrics struct {
	listenerInvocations *prometheus.CounterVec
	listenerLatency     *prometheus.HistogramVec
	publishes           *prometheus.CounterVec
	publishLatency      *prometheus.HistogramVec
	correlations        *prometheus.CounterVec
}

var latencyBuckets = []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000}

// NewPrometheusRecorder creates a MetricsRecorder and registers its
// collectors with registerer (prometheus.DefaultRegisterer when nil).
// Collectors that are already registered are reused.
func NewPrometheusRecorder(registerer prometheus.Registerer) (MetricsRecorder, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &promMetrics{
		listenerInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Subsystem: "listener",
			Name:      "invocations_total",
			Help:      "Total number of listener invocations by outcome",
		}, []string{"listener_id", "outcome"}),
		listenerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatchkit",
			Subsystem: "listener",
			Name:      "latency_ms",
			Help:      "Listener invocation latency in milliseconds",
			Buckets:   latencyBuckets,
		}, []string{"listener_id"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Subsystem: "publish",
			Name:      "total",
			Help:      "Total number of completed publishes",
		}, []string{"event_key", "success"}),
		publishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatchkit",
			Subsystem: "publish",
			Name:      "latency_ms",
			Help:      "Publish latency in milliseconds",
			Buckets:   latencyBuckets,
		}, []string{"event_key"}),
		correlations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Subsystem: "correlation",
			Name:      "resolved_total",
			Help:      "Total number of resolved correlation waits by outcome",
		}, []string{"outcome"}),
	}

	var err error
	m.listenerInvocations, err = register(registerer, m.listenerInvocations)
	if err != nil {
		return nil, err
	}
	m.listenerLatency, err = register(registerer, m.listenerLatency)
	if err != nil {
		return nil, err
	}
	m.publishes, err = register(registerer, m.publishes)
	if err != nil {
		return nil, err
	}
	m.publishLatency, err = register(registerer, m.publishLatency)
	if err != nil {
		return nil, err
	}
	m.correlations, err = register(registerer, m.correlations)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, returning the existing collector when an
// identical one is already registered.
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordListener records a listener invocation.
func (m *promMetrics) RecordListener(_ context.Context, listenerID string, duration time.Duration, outcome string) {
	m.listenerInvocations.WithLabelValues(listenerID, outcome).Inc()
	m.listenerLatency.WithLabelValues(listenerID).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordPublish records a publish.
func (m *promMetrics) RecordPublish(_ context.Context, eventKey string, duration time.Duration, _ int, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	m.publishes.WithLabelValues(eventKey, success).Inc()
	m.publishLatency.WithLabelValues(eventKey).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordCorrelation records a correlation outcome.
func (m *promMetrics) RecordCorrelation(_ context.Context, outcome string) {
	m.correlations.WithLabelValues(outcome).Inc()
}
