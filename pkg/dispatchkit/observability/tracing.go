package observability

import (
	"context"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/randalmurphal/dispatchkit"

// Span names.
const (
	SpanPublish  = "dispatchkit.publish"
	SpanListener = "dispatchkit.listener"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPublishSpan starts a span covering one publish.
	StartPublishSpan(ctx context.Context, eventKey, eventID string) (context.Context, trace.Span)

	// StartListenerSpan starts a child span for one listener invocation.
	StartListenerSpan(ctx context.Context, listenerID string, priority int) (context.Context, trace.Span)

	// EndSpanWithError ends span. A non-nil err marks it failed and
	// tags it with the error kind.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the span in ctx, if it is recording.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// SpanOption configures NewSpanManager.
type SpanOption func(*otelSpanManager)

// WithTracerProvider takes spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) SpanOption {
	return func(m *otelSpanManager) {
		if tp != nil {
			m.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// NewSpanManager returns an OpenTelemetry SpanManager. Without
// WithTracerProvider it follows the global provider, including one
// installed later with otel.SetTracerProvider.
func NewSpanManager(opts ...SpanOption) SpanManager {
	m := &otelSpanManager{tracer: otel.Tracer(instrumentationName)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *otelSpanManager) StartPublishSpan(ctx context.Context, eventKey, eventID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, SpanPublish,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("event.key", eventKey),
			attribute.String("event.id", eventID),
		),
	)
}

func (m *otelSpanManager) StartListenerSpan(ctx context.Context, listenerID string, priority int) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, SpanListener,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("listener.id", listenerID),
			attribute.Int("listener.priority", priority),
		),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetAttributes(attribute.String("error.kind", dkerrors.KindOf(err).String()))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
