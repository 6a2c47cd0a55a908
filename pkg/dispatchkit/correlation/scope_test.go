package correlation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/correlation"
	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitHeld blocks until key is held by a waiter.
func waitHeld[K comparable, V any](t *testing.T, s *correlation.Scope[K, V], key K) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Has(key) }, time.Second, time.Millisecond)
}

func TestWait_Timeout(t *testing.T) {
	s := correlation.NewScope[string, int]()

	start := time.Now()
	_, err := s.Wait(context.Background(), "k", correlation.WithTimeout(100*time.Millisecond))

	assert.ErrorIs(t, err, dkerrors.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, s.Has("k"), "timed out entry must be released")
}

func TestWait_DefaultTimeout(t *testing.T) {
	s := correlation.NewScope[string, int](correlation.WithDefaultTimeout(20 * time.Millisecond))

	_, err := s.Wait(context.Background(), "k")
	assert.ErrorIs(t, err, dkerrors.ErrTimeout)
}

func TestWait_PushDeliversOnce(t *testing.T) {
	s := correlation.NewScope[string, int]()

	got := make(chan int, 1)
	go func() {
		v, err := s.Wait(context.Background(), "k", correlation.WithTimeout(time.Second))
		assert.NoError(t, err)
		got <- v
	}()

	waitHeld(t, s, "k")
	assert.True(t, s.Push("k", 42))
	assert.False(t, s.Push("k", 43), "second push must find no waiter")

	assert.Equal(t, 42, <-got)
	assert.Equal(t, 0, s.Len())
}

func TestPush_WithoutWaiterIsDropped(t *testing.T) {
	s := correlation.NewScope[string, int]()
	assert.False(t, s.Push("k", 1))

	_, err := s.Wait(context.Background(), "k", correlation.WithTimeout(10*time.Millisecond))
	assert.ErrorIs(t, err, dkerrors.ErrTimeout, "push must not be queued")
}

func TestWait_DuplicateKey(t *testing.T) {
	s := correlation.NewScope[string, int]()

	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(context.Background(), "k", correlation.WithTimeout(time.Second))
		done <- err
	}()
	waitHeld(t, s, "k")

	start := time.Now()
	_, err := s.Wait(context.Background(), "k", correlation.WithTimeout(time.Second))
	assert.ErrorIs(t, err, dkerrors.ErrDuplicateKey)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "duplicate must fail fast")

	require.True(t, s.Push("k", 7))
	assert.NoError(t, <-done, "first waiter must be unaffected")
}

func TestRemove_CancelsWaiter(t *testing.T) {
	s := correlation.NewScope[string, int]()

	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(context.Background(), "k")
		done <- err
	}()
	waitHeld(t, s, "k")

	assert.True(t, s.Remove("k"))
	assert.False(t, s.Remove("k"))
	assert.ErrorIs(t, <-done, dkerrors.ErrCancelled)
}

func TestWait_ContextCancelReleasesKey(t *testing.T) {
	s := correlation.NewScope[string, int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(ctx, "k")
		done <- err
	}()
	waitHeld(t, s, "k")

	cancel()
	assert.ErrorIs(t, <-done, dkerrors.ErrCancelled)
	assert.False(t, s.Has("k"))

	// The key is free again.
	go func() {
		for !s.Push("k", 9) {
			time.Sleep(time.Millisecond)
		}
	}()
	v, err := s.Wait(context.Background(), "k", correlation.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestWait_ContextDeadlineIsTimeout(t *testing.T) {
	s := correlation.NewScope[string, int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Wait(ctx, "k")
	assert.ErrorIs(t, err, dkerrors.ErrTimeout)
}

func TestClose(t *testing.T) {
	s := correlation.NewScope[int, string]()

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(key int) {
			_, err := s.Wait(context.Background(), key)
			done <- err
		}(i)
	}
	require.Eventually(t, func() bool { return s.Len() == 2 }, time.Second, time.Millisecond)

	s.Close()
	s.Close()

	assert.ErrorIs(t, <-done, dkerrors.ErrCancelled)
	assert.ErrorIs(t, <-done, dkerrors.ErrCancelled)

	_, err := s.Wait(context.Background(), 5)
	assert.ErrorIs(t, err, dkerrors.ErrCancelled)
}

func TestPushRacingTimeout_ResolvesExactlyOnce(t *testing.T) {
	s := correlation.NewScope[int, int]()

	const rounds = 200
	var delivered, timedOut atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < rounds; i++ {
		wg.Add(2)
		pushed := make(chan bool, 1)
		go func(key int) {
			defer wg.Done()
			v, err := s.Wait(context.Background(), key, correlation.WithTimeout(time.Millisecond))
			ok := <-pushed
			switch {
			case err == nil:
				assert.Equal(t, key, v)
				assert.True(t, ok, "value returned without a successful push")
				delivered.Add(1)
			default:
				assert.ErrorIs(t, err, dkerrors.ErrTimeout)
				assert.False(t, ok, "push reported delivery but waiter timed out")
				timedOut.Add(1)
			}
		}(i)
		go func(key int) {
			defer wg.Done()
			time.Sleep(time.Duration(key%4) * 400 * time.Microsecond)
			pushed <- s.Push(key, key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(rounds), delivered.Load()+timedOut.Load())
	assert.Equal(t, 0, s.Len())
}

func TestScope_RecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := observability.NewPrometheusRecorder(reg)
	require.NoError(t, err)

	s := correlation.NewScope[string, int](correlation.WithMetrics(rec))
	_, _ = s.Wait(context.Background(), "a", correlation.WithTimeout(time.Millisecond))

	count, err := testutil.GatherAndCount(reg, "dispatchkit_correlation_resolved_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
