package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Listener outcomes recorded by RecordListener.
const (
	OutcomeContinue = "continue"
	OutcomeBreak    = "break"
	OutcomeValue    = "value"
	OutcomeError    = "error"
)

// Correlation outcomes recorded by RecordCorrelation.
const (
	CorrelationDelivered = "delivered"
	CorrelationTimeout   = "timeout"
	CorrelationCancelled = "cancelled"
	CorrelationDuplicate = "duplicate"
)

// MetricsRecorder records dispatch metrics.
// Use NewMetricsRecorder() for OTel, NewPrometheusRecorder for
// Prometheus, or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordListener records one listener invocation and its outcome.
	RecordListener(ctx context.Context, listenerID string, duration time.Duration, outcome string)

	// RecordPublish records a completed publish.
	RecordPublish(ctx context.Context, eventKey string, duration time.Duration, results int, err error)

	// RecordCorrelation records how a correlation wait ended.
	RecordCorrelation(ctx context.Context, outcome string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	listenerInvocations metric.Int64Counter
	listenerLatency     metric.Float64Histogram
	listenerErrors      metric.Int64Counter
	publishes           metric.Int64Counter
	publishLatency      metric.Float64Histogram
	correlations        metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily creates the shared OTel instruments.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("dispatchkit")

	listenerInvocations, err := meter.Int64Counter("dispatchkit.listener.invocations",
		metric.WithDescription("Number of listener invocations"),
	)
	if err != nil {
		return nil, err
	}

	listenerLatency, err := meter.Float64Histogram("dispatchkit.listener.latency_ms",
		metric.WithDescription("Listener invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	listenerErrors, err := meter.Int64Counter("dispatchkit.listener.errors",
		metric.WithDescription("Number of listener invocations that produced an error result"),
	)
	if err != nil {
		return nil, err
	}

	publishes, err := meter.Int64Counter("dispatchkit.publish.count",
		metric.WithDescription("Number of completed publishes"),
	)
	if err != nil {
		return nil, err
	}

	publishLatency, err := meter.Float64Histogram("dispatchkit.publish.latency_ms",
		metric.WithDescription("Publish latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	correlations, err := meter.Int64Counter("dispatchkit.correlation.resolved",
		metric.WithDescription("Number of resolved correlation waits by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		listenerInvocations: listenerInvocations,
		listenerLatency:     listenerLatency,
		listenerErrors:      listenerErrors,
		publishes:           publishes,
		publishLatency:      publishLatency,
		correlations:        correlations,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordListener records a listener invocation.
func (m *otelMetrics) RecordListener(ctx context.Context, listenerID string, duration time.Duration, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("listener_id", listenerID),
		attribute.String("outcome", outcome),
	)
	m.listenerInvocations.Add(ctx, 1, attrs)
	m.listenerLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if outcome == OutcomeError {
		m.listenerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("listener_id", listenerID)))
	}
}

// RecordPublish records a publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventKey string, duration time.Duration, results int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event_key", eventKey),
		attribute.Bool("success", err == nil),
	)
	m.publishes.Add(ctx, 1, attrs)
	m.publishLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordCorrelation records a correlation outcome.
func (m *otelMetrics) RecordCorrelation(ctx context.Context, outcome string) {
	m.correlations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
