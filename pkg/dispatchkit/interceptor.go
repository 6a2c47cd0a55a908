package dispatchkit

import (
	"cmp"
	"slices"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/registry"
)

// Decision is returned by Before hooks.
type Decision int

const (
	// Proceed lets the listener (or publish) go ahead.
	Proceed Decision = iota
	// Skip stops the chain; the listener (or publish) does not run.
	Skip
)

// String returns the decision name.
func (d Decision) String() string {
	if d == Skip {
		return "skip"
	}
	return "proceed"
}

// Interceptor wraps each listener invocation.
//
// Before hooks run in priority order before the filter is tested.
// After hooks run in reverse order once the handler has been invoked,
// and may rewrite its result. When any Before returns Skip, the listener
// is skipped and no After hook runs.
type Interceptor interface {
	Before(c *Context) Decision
	After(c *Context, r Result) Result
}

// InterceptorFuncs adapts functions to Interceptor. Nil fields proceed
// and pass the result through unchanged.
type InterceptorFuncs struct {
	BeforeFunc func(c *Context) Decision
	AfterFunc  func(c *Context, r Result) Result
}

// Before implements Interceptor.
func (f InterceptorFuncs) Before(c *Context) Decision {
	if f.BeforeFunc == nil {
		return Proceed
	}
	return f.BeforeFunc(c)
}

// After implements Interceptor.
func (f InterceptorFuncs) After(c *Context, r Result) Result {
	if f.AfterFunc == nil {
		return r
	}
	return f.AfterFunc(c, r)
}

// DispatchInterceptor wraps a whole publish. BeforeDispatch may skip
// the publish entirely; AfterDispatch may inspect or amend the
// aggregate. AfterDispatch runs only when this interceptor's
// BeforeDispatch returned Proceed, including when a later one skips
// or panics.
type DispatchInterceptor interface {
	BeforeDispatch(c *Context) Decision
	AfterDispatch(c *Context, agg *AggregateResult)
}

// DispatchInterceptorFuncs adapts functions to DispatchInterceptor.
type DispatchInterceptorFuncs struct {
	BeforeFunc func(c *Context) Decision
	AfterFunc  func(c *Context, agg *AggregateResult)
}

// BeforeDispatch implements DispatchInterceptor.
func (f DispatchInterceptorFuncs) BeforeDispatch(c *Context) Decision {
	if f.BeforeFunc == nil {
		return Proceed
	}
	return f.BeforeFunc(c)
}

// AfterDispatch implements DispatchInterceptor.
func (f DispatchInterceptorFuncs) AfterDispatch(c *Context, agg *AggregateResult) {
	if f.AfterFunc != nil {
		f.AfterFunc(c, agg)
	}
}

// hook is one interceptor in a merged chain.
type hook struct {
	priority int
	global   bool
	seq      uint64
	ic       Interceptor
}

// mergeHooks orders global and local interceptors by priority. Global
// interceptors run before local ones at equal priority; registration
// order breaks remaining ties.
func mergeHooks(globals []*registry.Entry[Interceptor], locals []hook) []hook {
	chain := make([]hook, 0, len(globals)+len(locals))
	for _, e := range globals {
		if !e.Disposed() {
			chain = append(chain, hook{priority: e.Priority, global: true, seq: e.Seq(), ic: e.Value})
		}
	}
	if len(locals) == 0 {
		return chain
	}

	chain = append(chain, locals...)
	slices.SortStableFunc(chain, func(a, b hook) int {
		if c := cmp.Compare(a.priority, b.priority); c != 0 {
			return c
		}
		if a.global != b.global {
			if a.global {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return chain
}

func safeBefore(c *Context, ic Interceptor) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{ListenerID: c.listenerID, Stage: StageIntercept, Value: r, Stack: stack()}
		}
	}()
	return ic.Before(c), nil
}

func safeAfter(c *Context, ic Interceptor, in Result) (out Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{ListenerID: c.listenerID, Stage: StageIntercept, Value: r, Stack: stack()}
		}
	}()
	return ic.After(c, in), nil
}

func safeBeforeDispatch(c *Context, ic DispatchInterceptor) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Stage: StageIntercept, Value: r, Stack: stack()}
		}
	}()
	return ic.BeforeDispatch(c), nil
}

func safeAfterDispatch(c *Context, ic DispatchInterceptor, agg *AggregateResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Stage: StageIntercept, Value: r, Stack: stack()}
		}
	}()
	ic.AfterDispatch(c, agg)
	return nil
}
