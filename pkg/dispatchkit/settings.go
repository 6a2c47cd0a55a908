package dispatchkit

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/config"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/correlation"
	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/observability"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/sink"
)

// NewFromSettings builds a Dispatcher from validated settings. opts are
// applied afterwards and override what the settings select.
//
// The prometheus backend registers with prometheus.DefaultRegisterer.
// A sqlite sink is closed by Dispatcher.Close.
func NewFromSettings(s config.Settings, opts ...Option) (*Dispatcher, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	logger, err := config.NewLogger(os.Stderr, s.LogLevel)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(logger),
		WithPublishTimeout(s.PublishTimeout),
		WithListenerTimeout(s.ListenerTimeout),
		WithMaxAsync(s.MaxAsync),
	}

	kinds, err := s.Kinds()
	if err != nil {
		return nil, dkerrors.Configuration("settings", err)
	}
	if len(kinds) > 0 {
		base = append(base, WithFatalKinds(kinds...))
	}

	switch s.Metrics {
	case config.MetricsOtel:
		base = append(base, WithMetrics(observability.NewMetricsRecorder()))
	case config.MetricsPrometheus:
		rec, err := observability.NewPrometheusRecorder(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, dkerrors.Configuration("settings", err)
		}
		base = append(base, WithMetrics(rec))
	}

	if s.Tracing {
		base = append(base, WithTracing())
	}

	switch s.Sink {
	case config.SinkMemory:
		base = append(base, WithErrorSink(sink.NewMemorySink(s.SinkCapacity)))
	case config.SinkSQLite:
		store, err := sink.NewSQLiteSink(s.SinkPath)
		if err != nil {
			return nil, dkerrors.Configuration("settings", err)
		}
		base = append(base, WithErrorSink(store), withCloser(store))
	default:
		base = append(base, WithErrorSink(sink.NewLogSink(logger, slog.LevelWarn)))
	}

	return New(append(base, opts...)...), nil
}

// NewScope creates a correlation scope that shares the dispatcher's
// logger and metrics and uses the settings' correlation timeout.
func NewScope[K comparable, V any](d *Dispatcher, s config.Settings) *correlation.Scope[K, V] {
	return correlation.NewScope[K, V](
		correlation.WithDefaultTimeout(s.CorrelationTimeout),
		correlation.WithLogger(d.cfg.logger),
		correlation.WithMetrics(d.cfg.metrics),
	)
}

// ErrorSink returns the sink failures are reported to.
func (d *Dispatcher) ErrorSink() sink.Sink {
	return d.cfg.sink
}
