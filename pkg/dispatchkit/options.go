package dispatchkit

import (
	"io"
	"log/slog"
	"slices"
	"time"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/observability"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/sink"
)

// dispatcherConfig holds dispatcher-wide settings.
type dispatcherConfig struct {
	logger          *slog.Logger
	metrics         observability.MetricsRecorder
	spans           observability.SpanManager
	tracingEnabled  bool
	sink            sink.Sink
	fatal           func(error) bool
	publishTimeout  time.Duration
	listenerTimeout time.Duration
	maxAsync        int
	closers         []io.Closer
}

// defaultDispatcherConfig returns the default configuration.
func defaultDispatcherConfig() dispatcherConfig {
	return dispatcherConfig{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		sink:    sink.Discard,
	}
}

// Option configures a Dispatcher.
type Option func(*dispatcherConfig)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *dispatcherConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics.
//
// Example:
//
//	d := dispatchkit.New(dispatchkit.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *dispatcherConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager enables tracing with the given span manager.
// Default: tracing disabled.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *dispatcherConfig) {
		if s != nil {
			c.spans = s
			c.tracingEnabled = true
		}
	}
}

// WithTracing enables OpenTelemetry tracing using the global tracer
// provider.
func WithTracing() Option {
	return WithSpanManager(observability.NewSpanManager())
}

// WithErrorSink sets where listener failures are reported.
// Default: sink.Discard (failures are still logged).
func WithErrorSink(s sink.Sink) Option {
	return func(c *dispatcherConfig) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithFatalKinds aborts a publish when a listener fails with one of
// kinds. It replaces any earlier fatal policy.
func WithFatalKinds(kinds ...dkerrors.Kind) Option {
	kinds = slices.Clone(kinds)
	return WithFatalPolicy(func(err error) bool {
		return slices.Contains(kinds, dkerrors.KindOf(err))
	})
}

// WithFatalPolicy aborts a publish when policy returns true for a
// listener failure. Default: no failure is fatal.
func WithFatalPolicy(policy func(err error) bool) Option {
	return func(c *dispatcherConfig) { c.fatal = policy }
}

// WithPublishTimeout bounds every publish. Zero means unbounded.
func WithPublishTimeout(d time.Duration) Option {
	return func(c *dispatcherConfig) {
		if d >= 0 {
			c.publishTimeout = d
		}
	}
}

// WithListenerTimeout bounds each listener invocation that sets no
// timeout of its own. Zero means unbounded.
func WithListenerTimeout(d time.Duration) Option {
	return func(c *dispatcherConfig) {
		if d >= 0 {
			c.listenerTimeout = d
		}
	}
}

// WithMaxAsync bounds concurrently running PublishAndForget work.
// Zero means unbounded.
func WithMaxAsync(n int) Option {
	return func(c *dispatcherConfig) {
		if n >= 0 {
			c.maxAsync = n
		}
	}
}

// withCloser registers a resource the dispatcher closes on Close.
func withCloser(cl io.Closer) Option {
	return func(c *dispatcherConfig) { c.closers = append(c.closers, cl) }
}
