package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics discards every measurement. It is the dispatcher default.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordListener(context.Context, string, time.Duration, string)    {}
func (NoopMetrics) RecordPublish(context.Context, string, time.Duration, int, error) {}
func (NoopMetrics) RecordCorrelation(context.Context, string)                        {}

// NoopSpanManager starts non-recording spans and leaves the context as
// it was, so a disabled tracer costs no allocations on the publish path.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

func (NoopSpanManager) StartPublishSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) StartListenerSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error)                          {}
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
