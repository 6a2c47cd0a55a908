package benchmarks

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/event"
)

var benchKey = event.NewKey("bench", nil)

// Payload is a small structured event payload.
type Payload struct {
	User string `json:"user"`
	Text string `json:"text"`
}

func newDispatcher(listeners int, opts ...dispatchkit.ListenerOption) *dispatchkit.Dispatcher {
	d := dispatchkit.New(dispatchkit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	for i := 0; i < listeners; i++ {
		_, err := d.RegisterFunc(i, nil, func(*dispatchkit.Context) (dispatchkit.Result, error) {
			return dispatchkit.Continue(), nil
		}, opts...)
		if err != nil {
			panic(err)
		}
	}
	return d
}

func newEvent() event.Event {
	return event.New(benchKey, Payload{User: "ann", Text: "hello"})
}

func benchPublish(b *testing.B, d *dispatchkit.Dispatcher) {
	b.Helper()
	ctx := context.Background()
	evt := newEvent()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = d.Publish(ctx, evt)
	}
}

// BenchmarkPublish_1 publishes to a single listener.
func BenchmarkPublish_1(b *testing.B) {
	benchPublish(b, newDispatcher(1))
}

// BenchmarkPublish_10 publishes to 10 listeners.
func BenchmarkPublish_10(b *testing.B) {
	benchPublish(b, newDispatcher(10))
}

// BenchmarkPublish_100 publishes to 100 listeners.
func BenchmarkPublish_100(b *testing.B) {
	benchPublish(b, newDispatcher(100))
}

// BenchmarkPublish_Intercepted publishes through a global interceptor.
func BenchmarkPublish_Intercepted(b *testing.B) {
	d := newDispatcher(10)
	_, _ = d.RegisterInterceptor(0, dispatchkit.InterceptorFuncs{
		BeforeFunc: func(*dispatchkit.Context) dispatchkit.Decision { return dispatchkit.Proceed },
		AfterFunc:  func(_ *dispatchkit.Context, r dispatchkit.Result) dispatchkit.Result { return r },
	})
	benchPublish(b, d)
}

// BenchmarkPublish_ExpressionFilter publishes to listeners guarded by
// an expression over the payload.
func BenchmarkPublish_ExpressionFilter(b *testing.B) {
	rule := dispatchkit.MustExpr(`data.user == "ann" && data.text startsWith "he"`)
	benchPublish(b, newDispatcher(10, dispatchkit.WithFilter(dispatchkit.MatchAll(rule))))
}

// BenchmarkPublish_Parallel publishes from many goroutines.
func BenchmarkPublish_Parallel(b *testing.B) {
	d := newDispatcher(10)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		evt := newEvent()
		for pb.Next() {
			_, _ = d.Publish(ctx, evt)
		}
	})
}

// BenchmarkPublishAsync measures future overhead.
func BenchmarkPublishAsync(b *testing.B) {
	d := newDispatcher(10)
	ctx := context.Background()
	evt := newEvent()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = d.PublishAsync(ctx, evt).Await(ctx)
	}
}
