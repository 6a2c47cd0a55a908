// Package correlation provides a keyed rendezvous table: one caller
// waits on a key while another code path pushes a value for it.
//
// Each key is held by at most one waiter. A wait ends exactly once,
// with the pushed value, a Timeout, or a Cancelled error; pushes with
// no waiter are dropped, not queued.
//
// Common use cases:
//   - A listener asking a question and waiting for the next reply
//   - Request/response over a fire-and-forget transport
//   - Human approvals delivered as events
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/observability"
)

// waiter is a pending wait. Exactly one of value/err is set by
// whoever removes it from the table.
type waiter[V any] struct {
	done  chan struct{}
	value V
	err   error
	since time.Time
}

func (w *waiter[V]) resolve(v V, err error) {
	w.value, w.err = v, err
	close(w.done)
}

// Scope is a correlation table keyed by K carrying values of type V.
type Scope[K comparable, V any] struct {
	mu      sync.Mutex
	waiters map[K]*waiter[V]
	closed  bool

	defaultTimeout time.Duration
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
}

// Option configures a Scope.
type Option func(*scopeConfig)

type scopeConfig struct {
	defaultTimeout time.Duration
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
}

// WithDefaultTimeout bounds waits that set no timeout of their own.
// Zero means unbounded (only ctx ends the wait).
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *scopeConfig) { c.defaultTimeout = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *scopeConfig) { c.logger = logger }
}

// WithMetrics sets the metrics recorder. Default: NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *scopeConfig) { c.metrics = m }
}

// NewScope creates an empty scope.
func NewScope[K comparable, V any](opts ...Option) *Scope[K, V] {
	cfg := scopeConfig{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.metrics == nil {
		cfg.metrics = observability.NoopMetrics{}
	}

	return &Scope[K, V]{
		waiters:        make(map[K]*waiter[V]),
		defaultTimeout: cfg.defaultTimeout,
		logger:         cfg.logger,
		metrics:        cfg.metrics,
	}
}

// WaitOption configures a single Wait.
type WaitOption func(*waitConfig)

type waitConfig struct {
	timeout time.Duration
}

// WithTimeout bounds this wait. It overrides the scope default.
func WithTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.timeout = d }
}

// Wait holds key until a value is pushed for it.
//
// It fails with:
//   - DuplicateKey at once, if another waiter holds key
//   - Timeout, when the wait's timeout or ctx deadline passes
//   - Cancelled, when ctx is cancelled, Remove(key) is called, or the
//     scope is closed
//
// Whatever ends the wait also releases the key.
func (s *Scope[K, V]) Wait(ctx context.Context, key K, opts ...WaitOption) (V, error) {
	var zero V
	cfg := waitConfig{timeout: s.defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	w := &waiter[V]{done: make(chan struct{}), since: time.Now()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return zero, dkerrors.Cancelled("correlation.wait", fmt.Errorf("scope closed"))
	}
	if _, held := s.waiters[key]; held {
		s.mu.Unlock()
		s.observe(ctx, key, observability.CorrelationDuplicate, 0)
		return zero, dkerrors.DuplicateKey("correlation.wait", key)
	}
	s.waiters[key] = w
	s.mu.Unlock()

	var timeout <-chan time.Time
	if cfg.timeout > 0 {
		timer := time.NewTimer(cfg.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-w.done:
	case <-timeout:
		s.claim(key, w, zero, dkerrors.Timeout("correlation.wait",
			fmt.Errorf("no value for key %v within %s", key, cfg.timeout)))
	case <-ctx.Done():
		s.claim(key, w, zero, dkerrors.FromContext("correlation.wait", ctx.Err()))
	}

	// If claim lost the race, a push or remove has already resolved w.
	<-w.done
	s.observe(ctx, key, outcomeOf(w.err), time.Since(w.since))
	return w.value, w.err
}

// claim removes w from the table and resolves it, unless someone else
// already did.
func (s *Scope[K, V]) claim(key K, w *waiter[V], v V, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters[key] != w {
		return false
	}
	delete(s.waiters, key)
	w.resolve(v, err)
	return true
}

// take removes and returns the waiter for key, if any.
func (s *Scope[K, V]) take(key K) *waiter[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.waiters[key]
	if !ok {
		return nil
	}
	delete(s.waiters, key)
	return w
}

// Push delivers v to the waiter holding key and reports whether one
// existed. Without a waiter the value is dropped.
func (s *Scope[K, V]) Push(key K, v V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.waiters[key]
	if !ok {
		return false
	}
	delete(s.waiters, key)
	w.resolve(v, nil)
	return true
}

// Remove cancels the waiter holding key and reports whether one existed.
func (s *Scope[K, V]) Remove(key K) bool {
	w := s.take(key)
	if w == nil {
		return false
	}
	var zero V
	w.resolve(zero, dkerrors.Cancelled("correlation.wait", fmt.Errorf("key %v removed", key)))
	return true
}

// Has reports whether key is currently held.
func (s *Scope[K, V]) Has(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.waiters[key]
	return ok
}

// Len returns the number of pending waits.
func (s *Scope[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Close cancels every pending wait and rejects new ones.
// Safe to call more than once.
func (s *Scope[K, V]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	var zero V
	for key, w := range s.waiters {
		delete(s.waiters, key)
		w.resolve(zero, dkerrors.Cancelled("correlation.wait", fmt.Errorf("scope closed")))
	}
}

func (s *Scope[K, V]) observe(ctx context.Context, key K, outcome string, waited time.Duration) {
	observability.LogCorrelation(s.logger, key, outcome, waited)
	s.metrics.RecordCorrelation(context.WithoutCancel(ctx), outcome)
}

func outcomeOf(err error) string {
	switch dkerrors.KindOf(err) {
	case dkerrors.KindUnknown:
		return observability.CorrelationDelivered
	case dkerrors.KindTimeout:
		return observability.CorrelationTimeout
	default:
		return observability.CorrelationCancelled
	}
}
