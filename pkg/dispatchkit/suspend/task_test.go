package suspend_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/correlation"
	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/suspend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_Await(t *testing.T) {
	task := suspend.Go(context.Background(), func(context.Context) (int, error) {
		return 7, nil
	})

	v, err := task.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	o, ok := task.Result()
	require.True(t, ok)
	assert.Equal(t, 7, o.Value)
}

func TestTask_ResultWhileRunning(t *testing.T) {
	release := make(chan struct{})
	task := suspend.Go(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	_, ok := task.Result()
	assert.False(t, ok)

	close(release)
	<-task.Done()
	_, ok = task.Result()
	assert.True(t, ok)
}

func TestTask_AwaitContextDoesNotCancelTask(t *testing.T) {
	release := make(chan struct{})
	task := suspend.Go(context.Background(), func(ctx context.Context) (int, error) {
		select {
		case <-release:
			return 3, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := task.Await(ctx)
	assert.ErrorIs(t, err, dkerrors.ErrTimeout)

	close(release)
	v, err := task.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestTask_BlockTimeoutCancels(t *testing.T) {
	cancelled := make(chan struct{})
	task := suspend.Go(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	})

	_, err := task.Block(20 * time.Millisecond)
	assert.ErrorIs(t, err, dkerrors.ErrTimeout)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled on block timeout")
	}
}

func TestTask_BlockWithoutTimeout(t *testing.T) {
	task := suspend.Go(context.Background(), func(context.Context) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	})

	v, err := task.Block(0)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestTask_CancelReleasesCorrelationWait(t *testing.T) {
	scope := correlation.NewScope[string, int]()
	task := suspend.Go(context.Background(), func(ctx context.Context) (int, error) {
		return scope.Wait(ctx, "reply")
	})

	require.Eventually(t, func() bool { return scope.Has("reply") }, time.Second, time.Millisecond)
	task.Cancel()

	_, err := task.Block(time.Second)
	assert.ErrorIs(t, err, dkerrors.ErrCancelled)
	assert.False(t, scope.Has("reply"))
}

func TestTask_PanicBecomesError(t *testing.T) {
	task := suspend.Go(context.Background(), func(context.Context) (int, error) {
		panic("boom")
	})

	_, err := task.Await(context.Background())
	var pe *suspend.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestTask_Chan(t *testing.T) {
	task := suspend.Completed(5, nil)

	o, ok := <-task.Chan()
	require.True(t, ok)
	assert.Equal(t, 5, o.Value)
	assert.NoError(t, o.Err)
}

func TestThen(t *testing.T) {
	base := suspend.Go(context.Background(), func(context.Context) (int, error) {
		return 2, nil
	})
	doubled := suspend.Then(base, func(v int) (string, error) {
		return string(rune('0' + v*2)), nil
	})

	v, err := doubled.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4", v)

	boom := errors.New("boom")
	var ran atomic.Bool
	failed := suspend.Then(suspend.Completed(0, boom), func(int) (int, error) {
		ran.Store(true)
		return 0, nil
	})
	_, err = failed.Await(context.Background())
	assert.Same(t, boom, err)
	assert.False(t, ran.Load())
}

func TestAll(t *testing.T) {
	tasks := make([]*suspend.Task[int], 5)
	for i := range tasks {
		tasks[i] = suspend.Go(context.Background(), func(context.Context) (int, error) {
			time.Sleep(time.Duration(5-i) * time.Millisecond)
			return i * i, nil
		})
	}

	got, err := suspend.All(context.Background(), tasks...)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 9, 16}, got)
}

func TestAll_FirstErrorCancelsRest(t *testing.T) {
	boom := errors.New("boom")
	slowCancelled := make(chan struct{})

	failing := suspend.Go(context.Background(), func(context.Context) (int, error) {
		return 0, boom
	})
	slow := suspend.Go(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(slowCancelled)
		return 0, ctx.Err()
	})

	_, err := suspend.All(context.Background(), failing, slow)
	assert.ErrorIs(t, err, boom)

	select {
	case <-slowCancelled:
	case <-time.After(time.Second):
		t.Fatal("remaining task was not cancelled")
	}
}

func TestStream(t *testing.T) {
	s := suspend.NewStream(context.Background(), 0, func(_ context.Context, emit func(int) error) error {
		for i := 1; i <= 3; i++ {
			if err := emit(i); err != nil {
				return err
			}
		}
		return nil
	})

	got, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestStream_CancelStopsProducer(t *testing.T) {
	s := suspend.NewStream(context.Background(), 0, func(_ context.Context, emit func(int) error) error {
		for i := 0; ; i++ {
			if err := emit(i); err != nil {
				return err
			}
		}
	})

	first := <-s.C()
	assert.Equal(t, 0, first)
	s.Cancel()

	for range s.C() {
	}
	assert.ErrorIs(t, s.Err(), dkerrors.ErrCancelled)
}

func TestLauncher_BoundsConcurrency(t *testing.T) {
	l := suspend.NewLauncher(suspend.WithMaxConcurrent(2))

	var running, peak atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Go(context.Background(), func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}

	require.NoError(t, l.Close(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, int64(0), l.InFlight())
}

func TestLauncher_ErrorsGoToSink(t *testing.T) {
	var mu sync.Mutex
	var got []error
	l := suspend.NewLauncher(suspend.WithErrorSink(func(_ context.Context, err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	}))

	boom := errors.New("boom")
	require.NoError(t, l.Go(context.Background(), func(context.Context) error { return boom }))
	require.NoError(t, l.Go(context.Background(), func(context.Context) error { panic("bad") }))
	require.NoError(t, l.Go(context.Background(), func(context.Context) error { return nil }))
	require.NoError(t, l.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)

	var sawBoom, sawPanic bool
	for _, err := range got {
		var pe *suspend.PanicError
		switch {
		case errors.Is(err, boom):
			sawBoom = true
		case errors.As(err, &pe):
			sawPanic = true
		}
	}
	assert.True(t, sawBoom)
	assert.True(t, sawPanic)
}

func TestLauncher_CloseRejectsNewWork(t *testing.T) {
	l := suspend.NewLauncher()
	require.NoError(t, l.Close(context.Background()))

	err := l.Go(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, dkerrors.ErrCancelled)
}

func TestLauncher_CloseTimeoutCancelsWork(t *testing.T) {
	l := suspend.NewLauncher(suspend.WithErrorSink(func(context.Context, error) {}))

	stopped := make(chan struct{})
	require.NoError(t, l.Go(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Close(ctx)
	assert.ErrorIs(t, err, dkerrors.ErrTimeout)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("outstanding work was not cancelled")
	}
}

func TestLauncher_WaitDrainsWithoutClosing(t *testing.T) {
	l := suspend.NewLauncher()

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Go(context.Background(), func(context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		}))
	}

	require.NoError(t, l.Wait(context.Background()))
	assert.Equal(t, int32(3), ran.Load())
	assert.NoError(t, l.Go(context.Background(), func(context.Context) error { return nil }))
	require.NoError(t, l.Close(context.Background()))
}
