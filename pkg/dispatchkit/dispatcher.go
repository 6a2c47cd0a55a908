package dispatchkit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
	"weak"

	"github.com/google/uuid"
	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/event"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/observability"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/registry"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/sink"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/suspend"
	"go.opentelemetry.io/otel/trace"
)

// streamBuffer is how many listener results PublishStream buffers
// before the publish waits for the consumer.
const streamBuffer = 16

// errOwnerGone is returned by weak handlers whose owner was collected.
var errOwnerGone = errors.New("listener owner collected")

// Dispatcher routes published events to registered listeners.
//
// A Dispatcher owns its listener and interceptor registries; separate
// dispatchers share nothing. All methods are safe for concurrent use,
// and listeners may be registered or disposed while publishes run.
type Dispatcher struct {
	cfg dispatcherConfig

	listeners    *registry.Registry[*listener]
	interceptors *registry.Registry[Interceptor]
	dispatchICs  *registry.Registry[DispatchInterceptor]
	launcher     *suspend.Launcher

	closed    atomic.Bool
	published atomic.Uint64
	failures  atomic.Uint64
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	cfg := defaultDispatcherConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	return &Dispatcher{
		cfg:          cfg,
		listeners:    registry.New[*listener](),
		interceptors: registry.New[Interceptor](),
		dispatchICs:  registry.New[DispatchInterceptor](),
		launcher: suspend.NewLauncher(
			suspend.WithMaxConcurrent(int64(cfg.maxAsync)),
			suspend.WithLauncherLogger(logger),
			suspend.WithErrorSink(func(_ context.Context, err error) {
				observability.LogPublishError(logger, err, 0, "")
			}),
		),
	}
}

// Register adds a listener at priority. Lower priorities run first;
// equal priorities run in registration order. f may be nil.
//
// The returned handle disposes the registration. Registration errors
// match errors.ErrConfiguration.
func (d *Dispatcher) Register(priority int, f *Filter, h Handler, opts ...ListenerOption) (registry.Handle, error) {
	e, err := d.register(priority, f, h, opts)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RegisterFunc is Register for a function.
func (d *Dispatcher) RegisterFunc(priority int, f *Filter, fn HandlerFunc, opts ...ListenerOption) (registry.Handle, error) {
	if fn == nil {
		return nil, dkerrors.New(dkerrors.KindConfiguration, "register", ErrNilHandler)
	}
	return d.Register(priority, f, fn, opts...)
}

func (d *Dispatcher) register(priority int, f *Filter, h Handler, opts []ListenerOption) (*registry.Entry[*listener], error) {
	if d.closed.Load() {
		return nil, dkerrors.New(dkerrors.KindCancelled, "register", ErrDispatcherClosed)
	}
	if hf, ok := h.(HandlerFunc); ok && hf == nil {
		h = nil
	}

	var cfg listenerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}

	l, err := buildListener(id, f, h, cfg)
	if err != nil {
		return nil, err
	}
	return d.listeners.Register(priority, l), nil
}

// RegisterWeak registers fn so that it reaches owner only through a
// weak pointer. Once owner is garbage collected the registration is
// disposed. fn must not capture owner, or owner is never collected.
func RegisterWeak[O any](d *Dispatcher, owner *O, priority int, f *Filter, fn func(owner *O, c *Context) (Result, error), opts ...ListenerOption) (*registry.WeakHandle[O], error) {
	if owner == nil {
		return nil, dkerrors.Configuration("register", errors.New("weak owner cannot be nil"))
	}
	if fn == nil {
		return nil, dkerrors.New(dkerrors.KindConfiguration, "register", ErrNilHandler)
	}

	ref := weak.Make(owner)
	h := HandlerFunc(func(c *Context) (Result, error) {
		o := ref.Value()
		if o == nil {
			return Result{}, errOwnerGone
		}
		return fn(o, c)
	})

	alive := func(c *listenerConfig) {
		c.alive = func() bool { return ref.Value() != nil }
	}
	e, err := d.register(priority, f, h, append(opts[:len(opts):len(opts)], alive))
	if err != nil {
		return nil, err
	}
	return registry.Weak(owner, e), nil
}

// RegisterInterceptor adds a global listener interceptor. It wraps
// every listener, merged with listener-local interceptors by priority.
func (d *Dispatcher) RegisterInterceptor(priority int, ic Interceptor) (registry.Handle, error) {
	if ic == nil {
		return nil, dkerrors.New(dkerrors.KindConfiguration, "register interceptor", ErrNilInterceptor)
	}
	if d.closed.Load() {
		return nil, dkerrors.New(dkerrors.KindCancelled, "register interceptor", ErrDispatcherClosed)
	}
	return d.interceptors.Register(priority, ic), nil
}

// RegisterDispatchInterceptor adds an interceptor that runs once per
// publish, around the whole listener walk.
func (d *Dispatcher) RegisterDispatchInterceptor(priority int, ic DispatchInterceptor) (registry.Handle, error) {
	if ic == nil {
		return nil, dkerrors.New(dkerrors.KindConfiguration, "register interceptor", ErrNilInterceptor)
	}
	if d.closed.Load() {
		return nil, dkerrors.New(dkerrors.KindCancelled, "register interceptor", ErrDispatcherClosed)
	}
	return d.dispatchICs.Register(priority, ic), nil
}

// Publish delivers evt to every applicable listener and returns the
// aggregate.
//
// Listener failures are recorded in the aggregate and do not make
// Publish fail. Publish returns an error when:
//   - evt is nil or the dispatcher is closed (no aggregate)
//   - a failure matched the fatal policy (Aborted, the failure is returned)
//   - ctx ended before every listener ran (Cancelled, Timeout or Cancelled error)
func (d *Dispatcher) Publish(ctx context.Context, evt event.Event) (*AggregateResult, error) {
	if err := d.accepting(evt); err != nil {
		return nil, err
	}
	return d.publish(ctx, evt, nil)
}

// PublishBlocking publishes and waits at most timeout. On timeout the
// publish is cancelled and a Timeout error is returned. A non-positive
// timeout waits indefinitely.
func (d *Dispatcher) PublishBlocking(evt event.Event, timeout time.Duration) (*AggregateResult, error) {
	return d.PublishAsync(context.Background(), evt).Block(timeout)
}

// PublishAsync starts a publish and returns its future. Cancelling the
// task cancels the publish.
func (d *Dispatcher) PublishAsync(ctx context.Context, evt event.Event) *suspend.Task[*AggregateResult] {
	return suspend.Go(ctx, func(ctx context.Context) (*AggregateResult, error) {
		return d.Publish(ctx, evt)
	})
}

// PublishAndForget schedules a publish and returns at once. The publish
// keeps ctx's values but not its cancellation. Listener failures reach
// the error sink as usual; a failed publish is logged.
func (d *Dispatcher) PublishAndForget(ctx context.Context, evt event.Event) error {
	if err := d.accepting(evt); err != nil {
		return err
	}
	// Accepted work runs even if Close starts before it does.
	return d.launcher.Go(context.WithoutCancel(ctx), func(ctx context.Context) error {
		_, err := d.publish(ctx, evt, nil)
		return err
	})
}

// PublishStream publishes and yields one ListenerResult per invoked
// listener as it completes. The stream's error is the publish error.
// Cancelling the stream cancels the publish.
func (d *Dispatcher) PublishStream(ctx context.Context, evt event.Event) *suspend.Stream[ListenerResult] {
	return suspend.NewStream(ctx, streamBuffer, func(ctx context.Context, emit func(ListenerResult) error) error {
		if err := d.accepting(evt); err != nil {
			return err
		}
		_, err := d.publish(ctx, evt, func(lr ListenerResult) {
			// A failed emit means ctx ended; the walk notices on its own.
			_ = emit(lr)
		})
		return err
	})
}

// accepting reports whether a new publish of evt may start.
func (d *Dispatcher) accepting(evt event.Event) error {
	if evt == nil {
		return dkerrors.New(dkerrors.KindConfiguration, "publish", ErrNilEvent)
	}
	if d.closed.Load() {
		return dkerrors.New(dkerrors.KindCancelled, "publish", ErrDispatcherClosed)
	}
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, evt event.Event, observe func(ListenerResult)) (agg *AggregateResult, err error) {
	if d.cfg.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.publishTimeout)
		defer cancel()
	}

	d.published.Add(1)
	elapsed := observability.TimedOperation()
	start := time.Now()
	keyPath := evt.Key().Path()
	logger := observability.EnrichLogger(d.cfg.logger, evt.ID(), keyPath)
	observability.LogPublishStart(logger, d.listeners.Len())

	if d.cfg.tracingEnabled {
		var span trace.Span
		ctx, span = d.cfg.spans.StartPublishSpan(ctx, keyPath, evt.ID())
		defer func() {
			d.cfg.spans.EndSpanWithError(span, err)
		}()
	}

	agg = &AggregateResult{EventID: evt.ID(), EventKey: evt.Key()}
	c := newContext(ctx, evt, logger)
	err = d.dispatch(c, agg, observe)
	agg.Duration = time.Since(start)

	d.cfg.metrics.RecordPublish(context.WithoutCancel(ctx), keyPath, agg.Duration, len(agg.Results), err)
	if err != nil {
		last := ""
		if n := len(agg.Results); n > 0 {
			last = agg.Results[n-1].ListenerID
		}
		observability.LogPublishError(logger, err, elapsed(), last)
	} else {
		observability.LogPublishComplete(logger, elapsed(), len(agg.Results), stoppedBy(agg))
	}
	return agg, err
}

// dispatch runs dispatch interceptors around the listener walk.
// AfterDispatch runs, in reverse, for every interceptor whose
// BeforeDispatch proceeded, even when a later one skips or panics.
func (d *Dispatcher) dispatch(c *Context, agg *AggregateResult, observe func(ListenerResult)) error {
	var entered []DispatchInterceptor
	unwind := func() {
		for i := len(entered) - 1; i >= 0; i-- {
			if perr := safeAfterDispatch(c, entered[i], agg); perr != nil {
				d.record(c, agg, ListenerResult{Result: Error(perr)}, observe)
			}
		}
	}

	for _, e := range d.dispatchICs.Snapshot() {
		if e.Disposed() {
			continue
		}
		dec, err := safeBeforeDispatch(c, e.Value)
		if err != nil {
			agg.Intercepted = true
			d.record(c, agg, ListenerResult{Result: Error(err)}, observe)
			unwind()
			return nil
		}
		if dec == Skip {
			agg.Intercepted = true
			observability.LogListenerSkipped(c.logger, "", "dispatch intercepted")
			unwind()
			return nil
		}
		entered = append(entered, e.Value)
	}

	err := d.walk(c, agg, observe)
	unwind()
	return err
}

// walk visits listeners in priority order.
func (d *Dispatcher) walk(c *Context, agg *AggregateResult, observe func(ListenerResult)) error {
	globals := d.interceptors.Snapshot()
	key := c.Event().Key()

	var fatal error
	cancelled := false
	d.listeners.Range(func(e *registry.Entry[*listener]) bool {
		if c.Err() != nil {
			cancelled = true
			return false
		}
		if !e.Value.applies(key) {
			return true
		}

		lr, ok := d.visit(c, e, globals)
		if !ok {
			return true
		}
		d.record(c, agg, lr, observe)

		switch {
		case lr.kind == KindBreak:
			agg.Broken = true
			agg.BrokenBy = lr.ListenerID
			return false
		case lr.kind == KindError && d.cfg.fatal != nil && d.cfg.fatal(lr.err):
			agg.Aborted = true
			fatal = lr.err
			return false
		}
		return true
	})

	if fatal != nil {
		return fatal
	}
	if cancelled {
		agg.Cancelled = true
		return dkerrors.FromContext("publish", c.Err())
	}
	return nil
}

// visit runs one listener through its interceptors and filter. ok is
// false when the listener was skipped and contributes no result.
func (d *Dispatcher) visit(c *Context, e *registry.Entry[*listener], globals []*registry.Entry[Interceptor]) (lr ListenerResult, ok bool) {
	l := e.Value
	lc := c.forListener(c.Context, l.id)
	lr = ListenerResult{ListenerID: l.id, Priority: e.Priority}

	chain := mergeHooks(globals, l.interceptors)
	for _, h := range chain {
		dec, err := safeBefore(lc, h.ic)
		if err != nil {
			lr.Result = Error(err)
			d.cfg.metrics.RecordListener(c, l.id, 0, observability.OutcomeError)
			return lr, true
		}
		if dec == Skip {
			observability.LogListenerSkipped(lc.logger, l.id, "intercepted")
			return lr, false
		}
	}

	if l.filter != nil {
		pass, err := l.filter.Test(lc, lc)
		if err != nil {
			lr.Result = Error(&HandlerError{ListenerID: l.id, Stage: StageFilter, Err: err})
			d.cfg.metrics.RecordListener(c, l.id, 0, observability.OutcomeError)
			return lr, true
		}
		if !pass {
			observability.LogListenerSkipped(lc.logger, l.id, "filtered")
			return lr, false
		}
	}

	// Dispose may have happened while hooks and filters ran.
	if e.Disposed() {
		return lr, false
	}
	if l.alive != nil && !l.alive() {
		e.Dispose()
		return lr, false
	}
	if l.once {
		if !l.claimed.CompareAndSwap(false, true) {
			return lr, false
		}
		e.Dispose()
	}
	if l.serial != nil {
		l.serial.Lock()
		defer l.serial.Unlock()
	}

	ictx := lc.Context
	timeout := l.timeout
	if timeout == 0 {
		timeout = d.cfg.listenerTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ictx, timeout)
		defer cancel()
	}
	var span trace.Span
	if d.cfg.tracingEnabled {
		ictx, span = d.cfg.spans.StartListenerSpan(ictx, l.id, e.Priority)
	}

	start := time.Now()
	r, err := l.invoke(lc.with(ictx))
	if errors.Is(err, errOwnerGone) {
		if span != nil {
			d.cfg.spans.EndSpanWithError(span, nil)
		}
		return lr, false
	}
	if err != nil {
		r = Error(asListenerError(l.id, StageHandler, err))
	}

	for i := len(chain) - 1; i >= 0; i-- {
		out, perr := safeAfter(lc, chain[i].ic, r)
		if perr != nil {
			r = Error(perr)
			continue
		}
		r = out
	}
	if r.kind == KindError {
		r = Error(asListenerError(l.id, StageIntercept, r.err))
	}

	lr.Result = r
	lr.Duration = time.Since(start)
	if span != nil {
		d.cfg.spans.EndSpanWithError(span, r.err)
	}
	d.cfg.metrics.RecordListener(c, l.id, lr.Duration, outcomeOf(r))
	return lr, true
}

// asListenerError wraps err in a HandlerError for stage unless it
// already identifies the listener.
func asListenerError(listenerID, stage string, err error) error {
	var he *HandlerError
	var pe *PanicError
	if errors.As(err, &he) || errors.As(err, &pe) {
		return err
	}
	return &HandlerError{ListenerID: listenerID, Stage: stage, Err: err}
}

// record appends lr to the aggregate and reports failures.
func (d *Dispatcher) record(c *Context, agg *AggregateResult, lr ListenerResult, observe func(ListenerResult)) {
	agg.Results = append(agg.Results, lr)
	c.appendResult(lr)

	if lr.kind == KindError {
		d.failures.Add(1)
		stage := stageOf(lr.err)
		observability.LogListenerError(c.logger, lr.ListenerID, stage, lr.err)
		f := sink.NewFailure(c.Event(), lr.ListenerID, stage, lr.err)
		if err := d.cfg.sink.Report(context.WithoutCancel(c), f); err != nil {
			observability.LogSinkError(c.logger, lr.ListenerID, err)
		}
	}

	if observe != nil {
		observe(lr)
	}
}

func outcomeOf(r Result) string {
	switch r.kind {
	case KindBreak:
		return observability.OutcomeBreak
	case KindValue:
		return observability.OutcomeValue
	case KindError:
		return observability.OutcomeError
	default:
		return observability.OutcomeContinue
	}
}

func stoppedBy(agg *AggregateResult) string {
	switch {
	case agg.Intercepted:
		return "intercepted"
	case agg.Broken:
		return "break"
	case agg.Aborted:
		return "aborted"
	case agg.Cancelled:
		return "cancelled"
	default:
		return ""
	}
}

// Stats is a point-in-time view of a dispatcher.
type Stats struct {
	Listeners            int    // Registered listeners
	Interceptors         int    // Global listener interceptors
	DispatchInterceptors int    // Dispatch interceptors
	Published            uint64 // Publishes started
	Failures             uint64 // Error results recorded
	InFlight             int64  // Fire-and-forget publishes running
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Listeners:            d.listeners.Len(),
		Interceptors:         d.interceptors.Len(),
		DispatchInterceptors: d.dispatchICs.Len(),
		Published:            d.published.Load(),
		Failures:             d.failures.Load(),
		InFlight:             d.launcher.InFlight(),
	}
}

// Close stops accepting registrations and publishes, then waits for
// fire-and-forget publishes to finish. If ctx ends first they are
// cancelled. Resources built by NewFromSettings are released.
// Safe to call more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	errs := []error{d.launcher.Close(ctx)}
	for _, cl := range d.cfg.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
