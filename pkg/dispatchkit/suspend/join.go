package suspend

import (
	"context"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"golang.org/x/sync/errgroup"
)

// All waits for every task and returns their values in order. On the
// first failure the remaining tasks are cancelled and that error is
// returned.
func All[T any](ctx context.Context, tasks ...*Task[T]) ([]T, error) {
	out := make([]T, len(tasks))
	g, gctx := errgroup.WithContext(ctx)

	for i, t := range tasks {
		g.Go(func() error {
			v, err := t.Await(gctx)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, t := range tasks {
			t.Cancel()
		}
		return nil, err
	}
	return out, nil
}

// Stream delivers values produced progressively by a task.
type Stream[T any] struct {
	ch   chan T
	task *Task[struct{}]
}

// NewStream starts fn, which calls emit for each value. The channel
// returned by C closes when fn returns. emit fails with Timeout or
// Cancelled once the stream's context ends.
func NewStream[T any](ctx context.Context, buffer int, fn func(ctx context.Context, emit func(T) error) error) *Stream[T] {
	if buffer < 0 {
		buffer = 0
	}
	s := &Stream[T]{ch: make(chan T, buffer)}
	s.task = Go(ctx, func(ctx context.Context) (struct{}, error) {
		defer close(s.ch)
		emit := func(v T) error {
			select {
			case s.ch <- v:
				return nil
			case <-ctx.Done():
				return dkerrors.FromContext("stream.emit", ctx.Err())
			}
		}
		return struct{}{}, fn(ctx, emit)
	})
	return s
}

// C returns the value channel.
func (s *Stream[T]) C() <-chan T {
	return s.ch
}

// Err waits for the producer to finish and returns its error.
func (s *Stream[T]) Err() error {
	<-s.task.Done()
	o, _ := s.task.Result()
	return o.Err
}

// Cancel stops the producer. Values already buffered stay readable.
func (s *Stream[T]) Cancel() {
	s.task.Cancel()
}

// Collect drains the stream and returns all values with the producer's
// error.
func (s *Stream[T]) Collect() ([]T, error) {
	var out []T
	for v := range s.ch {
		out = append(out, v)
	}
	return out, s.Err()
}
