package suspend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"golang.org/x/sync/semaphore"
)

// ErrorSink receives errors from fire-and-forget work.
type ErrorSink func(ctx context.Context, err error)

// Launcher runs fire-and-forget work, bounding how many run at once
// and routing every failure to an error sink.
type Launcher struct {
	sem    *semaphore.Weighted
	sink   ErrorSink
	logger *slog.Logger

	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{} // closed while pending == 0

	inFlight atomic.Int64
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithMaxConcurrent bounds concurrently running work. Zero or negative
// means unbounded. Work beyond the bound waits for a slot.
func WithMaxConcurrent(n int64) LauncherOption {
	return func(l *Launcher) {
		if n > 0 {
			l.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithErrorSink sets where failures go. The default logs them.
func WithErrorSink(sink ErrorSink) LauncherOption {
	return func(l *Launcher) { l.sink = sink }
}

// WithLauncherLogger sets the logger. Default: slog.Default().
func WithLauncherLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) { l.logger = logger }
}

// NewLauncher creates a Launcher.
func NewLauncher(opts ...LauncherOption) *Launcher {
	base, stop := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	l := &Launcher{logger: slog.Default(), base: base, stop: stop, idle: idle}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.sink == nil {
		logger := l.logger
		l.sink = func(_ context.Context, err error) {
			logger.Error("background work failed", slog.String("error", err.Error()))
		}
	}
	return l
}

// Go schedules fn and returns immediately. fn runs with a context
// derived from ctx that is also cancelled when Close gives up waiting.
// Returns a Cancelled error if the launcher is closed.
func (l *Launcher) Go(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return dkerrors.Cancelled("launcher.go", fmt.Errorf("launcher closed"))
	}
	if l.pending == 0 {
		l.idle = make(chan struct{})
	}
	l.pending++
	l.mu.Unlock()

	fctx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(l.base, cancel)

	go func() {
		defer l.finish()
		defer cancel()
		defer stopAfter()

		if l.sem != nil {
			if err := l.sem.Acquire(fctx, 1); err != nil {
				l.sink(fctx, dkerrors.FromContext("launcher.acquire", err))
				return
			}
			defer l.sem.Release(1)
		}

		l.inFlight.Add(1)
		defer l.inFlight.Add(-1)

		if _, err := run(fctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		}); err != nil {
			l.sink(fctx, err)
		}
	}()
	return nil
}

// InFlight returns the number of functions currently running.
func (l *Launcher) InFlight() int64 {
	return l.inFlight.Load()
}

// Wait blocks until all work scheduled so far has finished or ctx
// ends. Unlike Close it neither rejects new work nor cancels anything.
func (l *Launcher) Wait(ctx context.Context) error {
	select {
	case <-l.drained():
		return nil
	case <-ctx.Done():
		return dkerrors.FromContext("launcher.wait", ctx.Err())
	}
}

// Close stops accepting work and waits for scheduled work to finish.
// If ctx ends first, outstanding work is cancelled and the ctx error is
// returned as Timeout or Cancelled. Safe to call more than once.
func (l *Launcher) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case <-l.drained():
		l.stop()
		return nil
	case <-ctx.Done():
		l.stop()
		return dkerrors.FromContext("launcher.close", ctx.Err())
	}
}

func (l *Launcher) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending--
	if l.pending == 0 {
		close(l.idle)
	}
}

func (l *Launcher) drained() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idle
}
