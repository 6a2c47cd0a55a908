package dispatchkit

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Sentinel errors for registration and publishing.
var (
	// ErrNilHandler indicates a registration without a handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilEvent indicates a publish without an event.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrNilInterceptor indicates an interceptor registration without an interceptor.
	ErrNilInterceptor = errors.New("interceptor cannot be nil")

	// ErrDispatcherClosed indicates use of a dispatcher after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Stages at which a listener can fail.
const (
	StageHandler   = "handler"
	StageFilter    = "filter"
	StageIntercept = "intercept"
)

// HandlerError wraps a listener failure with the listener and the stage
// it failed at.
type HandlerError struct {
	// ListenerID identifies the listener.
	ListenerID string
	// Stage is StageHandler, StageFilter or StageIntercept.
	Stage string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("listener %s: %s: %v", e.ListenerID, e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a handler or hook.
// It includes the stack trace for debugging.
type PanicError struct {
	// ListenerID identifies the listener that panicked. It is empty
	// for dispatch interceptor panics.
	ListenerID string
	// Stage is where the panic happened.
	Stage string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	if e.ListenerID == "" {
		return fmt.Sprintf("dispatch interceptor panicked in %s: %v", e.Stage, e.Value)
	}
	return fmt.Sprintf("listener %s panicked in %s: %v", e.ListenerID, e.Stage, e.Value)
}

// stageOf returns the stage recorded on err, defaulting to the handler.
func stageOf(err error) string {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Stage
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return StageHandler
}

func stack() string {
	return string(debug.Stack())
}
