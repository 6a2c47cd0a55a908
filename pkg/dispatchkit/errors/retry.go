package errors

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures how a failing listener is re-invoked.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the pause before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the pause between attempts.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the pause after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc overrides IsRetryable when set.
	RetryableFunc func(error) bool

	// OnRetry is called before each re-attempt with the attempt number
	// that failed and its error.
	OnRetry func(attempt int, err error)
}

// DefaultRetry suits listeners that call out of process.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// FastRetry suits in-process listeners that fail on short-lived contention.
var FastRetry = RetryConfig{
	MaxAttempts:    5,
	InitialBackoff: 5 * time.Millisecond,
	MaxBackoff:     200 * time.Millisecond,
	BackoffFactor:  1.5,
	Jitter:         0.2,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// RetryResult contains the outcome of a retried call.
type RetryResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent, including backoff.
	Duration time.Duration
}

// WithRetry executes fn with retries and no cancellation.
func WithRetry[T any](cfg RetryConfig, fn func() (T, error)) RetryResult[T] {
	return WithRetryContext(context.Background(), cfg, func(_ context.Context) (T, error) {
		return fn()
	})
}

// WithRetryContext executes fn until it succeeds, returns a non-retryable
// error, runs out of attempts, or ctx ends. A ctx that ends between
// attempts yields a Timeout or Cancelled error.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	done := func(v T, err error, attempts int) RetryResult[T] {
		return RetryResult[T]{Value: v, Err: err, Attempts: attempts, Duration: time.Since(start)}
	}
	var zero T

	limit := max(cfg.MaxAttempts, 1)
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return done(zero, FromContext("retry", err), attempt-1)
		}

		v, err := fn(ctx)
		switch {
		case err == nil:
			return done(v, nil, attempt)
		case !retryable(err):
			return done(zero, err, attempt)
		case attempt == limit:
			lastErr = err
			continue
		}
		lastErr = err

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if err := sleep(ctx, cfg.delay(attempt)); err != nil {
			return done(zero, FromContext("retry backoff", err), attempt)
		}
	}

	return done(zero, &CategorizedError{
		Err:      lastErr,
		Category: Categorize(lastErr),
		Retries:  limit,
		Context:  "max retries exceeded",
	}, limit)
}

// delay is the pause after the given failed attempt: InitialBackoff
// grown by BackoffFactor per attempt, capped at MaxBackoff, then
// spread by Jitter.
func (cfg RetryConfig) delay(attempt int) time.Duration {
	d := float64(cfg.InitialBackoff)
	if cfg.BackoffFactor > 0 {
		d *= math.Pow(cfg.BackoffFactor, float64(attempt-1))
	}
	if cfg.MaxBackoff > 0 && d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx ends, returning ctx.Err() in the
// latter case.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.BackoffFactor = f }
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.Jitter = j }
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) { cfg.RetryableFunc = fn }
}

// WithOnRetry sets a callback run before each re-attempt.
func WithOnRetry(fn func(attempt int, err error)) RetryOption {
	return func(cfg *RetryConfig) { cfg.OnRetry = fn }
}

// NewRetryConfig creates a retry configuration from DefaultRetry and opts.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
