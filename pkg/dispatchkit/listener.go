package dispatchkit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/event"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/filter"
)

// Handler handles an event. A returned error is recorded as an Error
// result; it never escapes the publish.
//
// Handlers that block must honour c, which carries the publish
// cancellation and any listener timeout.
type Handler interface {
	Handle(c *Context) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *Context) (Result, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(c *Context) (Result, error) {
	return f(c)
}

// Filter gates a listener. See package filter for ANY/ALL/NONE.
type Filter = filter.Spec[*Context]

// Predicate is a single filter rule.
type Predicate = filter.Predicate[*Context]

// MatchAll is true when every rule is true.
func MatchAll(rules ...Predicate) *Filter { return filter.AllOf(rules...) }

// MatchAny is true when at least one rule is true.
func MatchAny(rules ...Predicate) *Filter { return filter.AnyOf(rules...) }

// MatchNone is true when no rule is true.
func MatchNone(rules ...Predicate) *Filter { return filter.NoneOf(rules...) }

// Expr compiles a boolean expression over Context.Vars into a rule.
//
//	rule, err := dispatchkit.Expr(`source == "discord" && data.text startsWith "!"`)
func Expr(src string) (Predicate, error) {
	e, err := filter.Compile(src)
	if err != nil {
		return nil, err
	}
	return filter.FromExpression(e, (*Context).Vars), nil
}

// MustExpr is like Expr but panics on error. For package-level rules.
func MustExpr(src string) Predicate {
	p, err := Expr(src)
	if err != nil {
		panic(err)
	}
	return p
}

// KeyIs is true when the event key is a subtype of any of keys.
func KeyIs(keys ...*event.Key) Predicate {
	return filter.Func(func(c *Context) bool {
		return keyMatches(c.Event().Key(), keys)
	})
}

func keyMatches(k *event.Key, keys []*event.Key) bool {
	for _, want := range keys {
		if k.IsSubtypeOf(want) {
			return true
		}
	}
	return false
}

// listener is a registered handler with its settings.
type listener struct {
	id           string
	keys         []*event.Key
	filter       *Filter
	interceptors []hook
	timeout      time.Duration
	retry        *dkerrors.RetryConfig
	handler      Handler

	once    bool
	claimed atomic.Bool

	// alive is non-nil for weak listeners and reports whether the
	// owner is still reachable.
	alive func() bool

	// serial is non-nil for Serialized listeners.
	serial *sync.Mutex
}

// applies reports whether the listener accepts events with key k.
func (l *listener) applies(k *event.Key) bool {
	return len(l.keys) == 0 || keyMatches(k, l.keys)
}

// ListenerOption configures a registration.
type ListenerOption func(*listenerConfig)

type listenerConfig struct {
	id           string
	keys         []*event.Key
	filter       *Filter
	interceptors []hook
	timeout      time.Duration
	retry        *dkerrors.RetryConfig
	once         bool
	serialized   bool
	alive        func() bool
}

// ForKeys limits the listener to events whose key is a subtype of one
// of keys.
func ForKeys(keys ...*event.Key) ListenerOption {
	return func(c *listenerConfig) { c.keys = append(c.keys, keys...) }
}

// WithListenerID names the listener in results, logs and metrics.
// Default: a random UUID.
func WithListenerID(id string) ListenerOption {
	return func(c *listenerConfig) { c.id = id }
}

// WithFilter gates the listener. When Register also receives a filter,
// both must pass.
func WithFilter(f *Filter) ListenerOption {
	return func(c *listenerConfig) { c.filter = f }
}

// WithInterceptor adds a listener-local interceptor at priority.
func WithInterceptor(priority int, ic Interceptor) ListenerOption {
	return func(c *listenerConfig) {
		c.interceptors = append(c.interceptors, hook{
			priority: priority,
			seq:      uint64(len(c.interceptors)),
			ic:       ic,
		})
	}
}

// WithTimeout bounds each invocation of the listener. It overrides the
// dispatcher's listener timeout.
func WithTimeout(d time.Duration) ListenerOption {
	return func(c *listenerConfig) { c.timeout = d }
}

// WithRetry retries the handler while it fails with a retryable
// (transient) error.
func WithRetry(cfg dkerrors.RetryConfig) ListenerOption {
	return func(c *listenerConfig) { c.retry = &cfg }
}

// Once delivers at most one event to the listener across all
// concurrent publishes, then disposes it.
func Once() ListenerOption {
	return func(c *listenerConfig) { c.once = true }
}

// Serialized makes concurrent publishes invoke the listener one at a
// time.
func Serialized() ListenerOption {
	return func(c *listenerConfig) { c.serialized = true }
}

func buildListener(id string, f *Filter, h Handler, cfg listenerConfig) (*listener, error) {
	if h == nil {
		return nil, dkerrors.New(dkerrors.KindConfiguration, "register", ErrNilHandler)
	}
	if cfg.timeout < 0 {
		return nil, dkerrors.Configuration("register", fmt.Errorf("negative timeout %s", cfg.timeout))
	}
	for _, k := range cfg.keys {
		if k == nil {
			return nil, dkerrors.Configuration("register", fmt.Errorf("nil event key"))
		}
	}
	for _, ic := range cfg.interceptors {
		if ic.ic == nil {
			return nil, dkerrors.New(dkerrors.KindConfiguration, "register", ErrNilInterceptor)
		}
	}

	switch {
	case f != nil && cfg.filter != nil:
		f = MatchAll(f.Predicate(), cfg.filter.Predicate())
	case f == nil:
		f = cfg.filter
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	l := &listener{
		id:           id,
		keys:         cfg.keys,
		filter:       f,
		interceptors: cfg.interceptors,
		timeout:      cfg.timeout,
		retry:        cfg.retry,
		handler:      h,
		once:         cfg.once,
		alive:        cfg.alive,
	}
	if cfg.serialized {
		l.serial = &sync.Mutex{}
	}
	return l, nil
}

// call runs the handler once with panic recovery. Error results and
// returned errors are wrapped in a HandlerError.
func (l *listener) call(c *Context) (r Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{ListenerID: l.id, Stage: StageHandler, Value: rec, Stack: stack()}
		}
	}()

	r, err = l.handler.Handle(c)
	if err == nil && r.kind == KindError {
		err = r.err
	}
	if err != nil {
		if _, ok := err.(*HandlerError); !ok {
			err = &HandlerError{ListenerID: l.id, Stage: StageHandler, Err: err}
		}
		return Result{}, err
	}
	return r, nil
}

// invoke runs the handler, applying retry when configured.
func (l *listener) invoke(c *Context) (Result, error) {
	if l.retry == nil {
		return l.call(c)
	}

	cfg := *l.retry
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = dkerrors.IsRetryable
	}
	cfg.RetryableFunc = func(err error) bool {
		if _, ok := err.(*PanicError); ok {
			return false
		}
		return retryable(err)
	}

	res := dkerrors.WithRetryContext(c, cfg, func(ctx context.Context) (Result, error) {
		return l.call(c.with(ctx))
	})
	if res.Err != nil {
		return Result{}, res.Err
	}
	return res.Value, nil
}
