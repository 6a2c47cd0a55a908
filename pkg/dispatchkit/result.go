package dispatchkit

import (
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/event"
)

// ResultKind tags a Result.
type ResultKind int

const (
	// KindContinue lets the walk go on. It is the zero value.
	KindContinue ResultKind = iota
	// KindBreak stops the walk after this listener.
	KindBreak
	// KindValue contributes a payload and lets the walk go on.
	KindValue
	// KindError records a failure and lets the walk go on, unless the
	// failure is fatal.
	KindError
)

// String returns the kind name.
func (k ResultKind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindBreak:
		return "break"
	case KindValue:
		return "value"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is what a listener invocation yields. The zero Result is
// Continue.
type Result struct {
	kind  ResultKind
	value any
	err   error
}

// Continue lets the walk go on.
func Continue() Result { return Result{} }

// Break stops the walk.
func Break() Result { return Result{kind: KindBreak} }

// BreakWith stops the walk and carries v.
func BreakWith(v any) Result { return Result{kind: KindBreak, value: v} }

// Value contributes v to the aggregate.
func Value(v any) Result { return Result{kind: KindValue, value: v} }

// Error records err. A nil err is Continue.
func Error(err error) Result {
	if err == nil {
		return Continue()
	}
	return Result{kind: KindError, err: err}
}

// Kind returns the result kind.
func (r Result) Kind() ResultKind { return r.kind }

// Payload returns the value carried by Value or BreakWith.
func (r Result) Payload() any { return r.value }

// Err returns the error carried by an Error result.
func (r Result) Err() error { return r.err }

// IsBreak reports whether r stops the walk.
func (r Result) IsBreak() bool { return r.kind == KindBreak }

// String renders the result for logs.
func (r Result) String() string {
	switch r.kind {
	case KindBreak:
		if r.value != nil {
			return fmt.Sprintf("break(%v)", r.value)
		}
		return "break"
	case KindValue:
		return fmt.Sprintf("value(%v)", r.value)
	case KindError:
		return fmt.Sprintf("error(%v)", r.err)
	default:
		return "continue"
	}
}

// ListenerResult is the Result of one invoked listener.
type ListenerResult struct {
	Result

	ListenerID string
	Priority   int
	Duration   time.Duration
}

// AggregateResult collects the results of one publish in the order the
// listeners ran. Listeners that were skipped contribute nothing.
type AggregateResult struct {
	EventID  string
	EventKey *event.Key
	Results  []ListenerResult

	// Broken is set when a listener returned Break; BrokenBy names it.
	Broken   bool
	BrokenBy string

	// Intercepted is set when a dispatch interceptor skipped the publish.
	Intercepted bool

	// Aborted is set when a fatal failure stopped the walk.
	Aborted bool

	// Cancelled is set when the publish context ended before every
	// listener ran.
	Cancelled bool

	Duration time.Duration
}

// Len returns the number of results.
func (a *AggregateResult) Len() int { return len(a.Results) }

// Values returns the payloads of Value and BreakWith results in order.
func (a *AggregateResult) Values() []any {
	var out []any
	for _, r := range a.Results {
		switch {
		case r.kind == KindValue:
			out = append(out, r.value)
		case r.kind == KindBreak && r.value != nil:
			out = append(out, r.value)
		}
	}
	return out
}

// Errors returns the errors of Error results in order.
func (a *AggregateResult) Errors() []error {
	var out []error
	for _, r := range a.Results {
		if r.kind == KindError {
			out = append(out, r.err)
		}
	}
	return out
}

// Err joins every listener error, or returns nil if there were none.
func (a *AggregateResult) Err() error {
	return errors.Join(a.Errors()...)
}

// Find returns the result of the named listener.
func (a *AggregateResult) Find(listenerID string) (ListenerResult, bool) {
	for _, r := range a.Results {
		if r.ListenerID == listenerID {
			return r, true
		}
	}
	return ListenerResult{}, false
}
