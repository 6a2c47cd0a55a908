// Package suspend adapts context-aware blocking work to the calling
// conventions callers expect: futures, blocking joins with a timeout,
// fire-and-forget with an error sink, and streams.
//
// Task is the single primitive. Everything else is a thin wrapper:
//
//	t := suspend.Go(ctx, func(ctx context.Context) (int, error) { ... })
//	v, err := t.Await(ctx)          // future
//	v, err = t.Block(time.Second)   // blocking join, cancels on timeout
//	t.Cancel()                      // propagates to fn's ctx
//
// Cancelling a task cancels the context passed to its function; work
// that honours that context (including correlation waits) is released.
package suspend

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
)

// PanicError is returned by a task whose function panicked.
type PanicError struct {
	Value any
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Outcome is the settled result of a task.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Task is a running or settled unit of work.
type Task[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	value  T
	err    error
}

// Go starts fn in a new goroutine. fn receives a context derived from
// ctx that is also cancelled by Cancel, Block timeouts, and ctx itself.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	tctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{done: make(chan struct{}), cancel: cancel}

	go func() {
		defer cancel()
		v, err := run(tctx, fn)
		t.settle(v, err)
	}()
	return t
}

// Completed returns an already settled task.
func Completed[T any](v T, err error) *Task[T] {
	t := &Task[T]{done: make(chan struct{}), cancel: func() {}}
	t.settle(v, err)
	return t
}

func run[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn(ctx)
}

func (t *Task[T]) settle(v T, err error) {
	t.once.Do(func() {
		t.value, t.err = v, err
		close(t.done)
	})
}

// Done is closed once the task has settled.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Cancel requests cancellation of the task's context. The task settles
// when its function returns.
func (t *Task[T]) Cancel() {
	t.cancel()
}

// Result returns the outcome without blocking. ok is false while the
// task is still running.
func (t *Task[T]) Result() (Outcome[T], bool) {
	select {
	case <-t.done:
		return Outcome[T]{Value: t.value, Err: t.err}, true
	default:
		return Outcome[T]{}, false
	}
}

// Await waits for the task to settle. If ctx ends first, Await returns
// a Timeout or Cancelled error and leaves the task running.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, dkerrors.FromContext("task.await", ctx.Err())
	}
}

// Block waits up to timeout for the task to settle. On timeout the task
// is cancelled and a Timeout error is returned. A non-positive timeout
// waits indefinitely.
//
// Block consumes the calling goroutine for its duration.
func (t *Task[T]) Block(timeout time.Duration) (T, error) {
	if timeout <= 0 {
		<-t.done
		return t.value, t.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return t.value, t.err
	case <-timer.C:
		t.Cancel()
		var zero T
		return zero, dkerrors.Timeout("task.block", fmt.Errorf("not settled within %s", timeout))
	}
}

// Chan exposes the task as a one-shot channel that receives its
// outcome and is then closed.
func (t *Task[T]) Chan() <-chan Outcome[T] {
	ch := make(chan Outcome[T], 1)
	go func() {
		<-t.done
		ch <- Outcome[T]{Value: t.value, Err: t.err}
		close(ch)
	}()
	return ch
}

// Then returns a task that applies fn to this task's value once it
// succeeds. Errors pass through untouched.
func Then[T, U any](t *Task[T], fn func(T) (U, error)) *Task[U] {
	return Go(context.Background(), func(ctx context.Context) (U, error) {
		select {
		case <-t.done:
		case <-ctx.Done():
			var zero U
			return zero, dkerrors.FromContext("task.then", ctx.Err())
		}
		if t.err != nil {
			var zero U
			return zero, t.err
		}
		return fn(t.value)
	})
}
