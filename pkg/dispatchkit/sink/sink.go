// Package sink receives listener failures that a publish reports.
//
// A dispatcher reports every Error result to its sink after logging it.
// Sinks are expected to be fast; slow persistence should buffer.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/event"
)

// codec is the JSON configuration used for payloads and metadata.
var codec = sonic.ConfigStd

// Failure is one failed listener invocation.
type Failure struct {
	ID         string            `json:"id"`
	EventID    string            `json:"event_id"`
	EventKey   string            `json:"event_key"`
	Source     string            `json:"source,omitempty"`
	ListenerID string            `json:"listener_id"`
	Stage      string            `json:"stage"`
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Payload    []byte            `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewFailure builds a Failure for evt. The event payload is encoded as
// JSON; a payload that cannot be encoded is left empty.
func NewFailure(evt event.Event, listenerID, stage string, err error) *Failure {
	f := &Failure{
		ID:         uuid.NewString(),
		ListenerID: listenerID,
		Stage:      stage,
		Kind:       dkerrors.KindOf(err).String(),
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		f.Message = err.Error()
	}
	if evt == nil {
		return f
	}

	f.EventID = evt.ID()
	f.Source = evt.Source()
	if k := evt.Key(); k != nil {
		f.EventKey = k.Path()
	}
	if md := evt.Metadata(); len(md) > 0 {
		f.Metadata = md
	}
	if data := evt.Data(); data != nil {
		if b, encErr := codec.Marshal(data); encErr == nil {
			f.Payload = b
		}
	}
	return f
}

// DecodePayload unmarshals the recorded payload into v.
func (f *Failure) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return errors.New("failure has no payload")
	}
	return codec.Unmarshal(f.Payload, v)
}

// Sink receives failures.
type Sink interface {
	Report(ctx context.Context, f *Failure) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, f *Failure) error

// Report implements Sink.
func (fn Func) Report(ctx context.Context, f *Failure) error {
	return fn(ctx, f)
}

// Discard drops every failure.
var Discard Sink = Func(func(context.Context, *Failure) error { return nil })

// Multi fans a failure out to every sink. All sinks are tried; their
// errors are joined.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Report(ctx context.Context, f *Failure) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Report(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each failure as a structured log record.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: level}
}

// Report implements Sink.
func (s *LogSink) Report(ctx context.Context, f *Failure) error {
	s.logger.LogAttrs(ctx, s.level, "listener failure",
		slog.String("failure_id", f.ID),
		slog.String("event_id", f.EventID),
		slog.String("event_key", f.EventKey),
		slog.String("listener_id", f.ListenerID),
		slog.String("stage", f.Stage),
		slog.String("kind", f.Kind),
		slog.String("error", f.Message),
	)
	return nil
}
