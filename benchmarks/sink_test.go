package benchmarks

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/sink"
)

func itoa(n int) string { return strconv.Itoa(n) }

func newFailure() *sink.Failure {
	return sink.NewFailure(newEvent(), "listener-1", "handler", errors.New("boom"))
}

// BenchmarkNewFailure measures failure construction, including payload
// encoding.
func BenchmarkNewFailure(b *testing.B) {
	evt := newEvent()
	err := errors.New("boom")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = sink.NewFailure(evt, "listener-1", "handler", err)
	}
}

// BenchmarkMemorySink_Report measures the in-memory ring buffer.
func BenchmarkMemorySink_Report(b *testing.B) {
	s := sink.NewMemorySink(1000)
	f := newFailure()
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Report(ctx, f)
	}
}

// BenchmarkSQLiteSink_Report measures persisting a failure.
func BenchmarkSQLiteSink_Report(b *testing.B) {
	s, err := sink.NewSQLiteSink(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f := newFailure()
		if err := s.Report(ctx, f); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSQLiteSink_List measures reading back failures.
func BenchmarkSQLiteSink_List(b *testing.B) {
	s, err := sink.NewSQLiteSink(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_ = s.Report(ctx, newFailure())
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.List(ctx, 100)
	}
}
