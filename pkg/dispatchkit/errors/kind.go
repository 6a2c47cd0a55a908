// Package errors defines the dispatchkit error taxonomy and the retry
// machinery used by listeners.
//
// Every error produced by the dispatcher, the correlation scope or the
// suspension bridge carries one Kind:
//   - Handler: raised inside a listener, filter or interceptor
//   - Timeout: a wait exceeded its deadline
//   - Cancelled: the operation was cancelled before completion
//   - DuplicateKey: a correlation key is already held by another waiter
//   - Configuration: invalid registration or settings input
//
// Kinds are matched with the standard errors.Is against the package
// sentinels, so callers never need to type-assert.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a dispatchkit error.
type Kind int

const (
	// KindUnknown is returned by KindOf for nil errors.
	KindUnknown Kind = iota

	// KindHandler marks a failure raised by user code.
	KindHandler

	// KindTimeout marks an elapsed deadline.
	KindTimeout

	// KindCancelled marks external cancellation.
	KindCancelled

	// KindDuplicateKey marks a second waiter on a held correlation key.
	KindDuplicateKey

	// KindConfiguration marks invalid input surfaced at registration time.
	KindConfiguration
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHandler:
		return "handler"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindDuplicateKey:
		return "duplicate_key"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "handler":
		return KindHandler, nil
	case "timeout":
		return KindTimeout, nil
	case "cancelled", "canceled":
		return KindCancelled, nil
	case "duplicate_key":
		return KindDuplicateKey, nil
	case "configuration":
		return KindConfiguration, nil
	default:
		return KindUnknown, Configuration("parse kind", fmt.Errorf("unknown error kind %q", s))
	}
}

// Sentinel errors, one per Kind.
var (
	ErrHandler       = errors.New("handler error")
	ErrTimeout       = errors.New("timeout")
	ErrCancelled     = errors.New("cancelled")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrConfiguration = errors.New("configuration error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindHandler:
		return ErrHandler
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	case KindDuplicateKey:
		return ErrDuplicateKey
	case KindConfiguration:
		return ErrConfiguration
	default:
		return nil
	}
}

// Error is a classified dispatchkit error.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the operation that failed (e.g. "correlation.wait").
	Op string

	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Timeout creates a timeout error for op.
func Timeout(op string, err error) *Error {
	return New(KindTimeout, op, err)
}

// Cancelled creates a cancellation error for op.
func Cancelled(op string, err error) *Error {
	return New(KindCancelled, op, err)
}

// DuplicateKey creates a duplicate key error for op.
func DuplicateKey(op string, key any) *Error {
	return New(KindDuplicateKey, op, fmt.Errorf("key %v already held", key))
}

// Configuration creates a configuration error for op.
func Configuration(op string, err error) *Error {
	return New(KindConfiguration, op, err)
}

// KindOf classifies any error. Context errors map to Timeout and
// Cancelled; everything else unclassified is a Handler error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindHandler
	}
}

// FromContext converts a context error into a classified error.
// Returns nil when err is nil.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(op, err)
	}
	return Cancelled(op, err)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
