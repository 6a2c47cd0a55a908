// Package filter decides whether a listener fires for a subject by
// combining predicates under ANY, ALL or NONE.
//
// Predicates run strictly one after another and evaluation stops as
// soon as the outcome is known, so a predicate that blocks on remote
// state is never followed by work whose answer cannot matter.
package filter

import (
	"context"
	"fmt"
	"strings"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
)

// MatchType combines predicate outcomes.
type MatchType int

const (
	// All is true iff every predicate is true. Empty is true.
	All MatchType = iota

	// Any is true iff at least one predicate is true. Empty is false.
	Any

	// None is true iff no predicate is true. Empty is true.
	None
)

// String returns the match type name.
func (m MatchType) String() string {
	switch m {
	case All:
		return "all"
	case Any:
		return "any"
	case None:
		return "none"
	default:
		return fmt.Sprintf("MatchType(%d)", int(m))
	}
}

// ParseMatchType parses "all", "any" or "none".
func ParseMatchType(s string) (MatchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return All, nil
	case "any":
		return Any, nil
	case "none":
		return None, nil
	default:
		return All, dkerrors.Configuration("filter.parse", fmt.Errorf("unknown match type %q", s))
	}
}

// Valid reports whether m is a known match type.
func (m MatchType) Valid() bool {
	return m == All || m == Any || m == None
}

// Predicate tests a subject. It may block and should honour ctx.
type Predicate[S any] func(ctx context.Context, subject S) (bool, error)

// Match evaluates rules against subject under mt.
//
// A predicate error stops evaluation and is returned with a false
// outcome. A ctx that ends between predicates does the same.
func Match[S any](ctx context.Context, mt MatchType, rules []Predicate[S], subject S) (bool, error) {
	if !mt.Valid() {
		return false, dkerrors.Configuration("filter.match", fmt.Errorf("invalid match type %d", int(mt)))
	}

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return false, dkerrors.FromContext("filter.match", err)
		}

		ok, err := rule(ctx, subject)
		if err != nil {
			return false, err
		}

		switch {
		case mt == Any && ok:
			return true, nil
		case mt == All && !ok:
			return false, nil
		case mt == None && ok:
			return false, nil
		}
	}

	return mt != Any, nil
}

// Spec is a match type with its rules.
// The zero Spec matches everything.
type Spec[S any] struct {
	Match MatchType
	Rules []Predicate[S]
}

// New creates a Spec.
func New[S any](mt MatchType, rules ...Predicate[S]) *Spec[S] {
	return &Spec[S]{Match: mt, Rules: rules}
}

// AllOf is shorthand for New(All, rules...).
func AllOf[S any](rules ...Predicate[S]) *Spec[S] { return New(All, rules...) }

// AnyOf is shorthand for New(Any, rules...).
func AnyOf[S any](rules ...Predicate[S]) *Spec[S] { return New(Any, rules...) }

// NoneOf is shorthand for New(None, rules...).
func NoneOf[S any](rules ...Predicate[S]) *Spec[S] { return New(None, rules...) }

// Validate checks the match type and rejects nil rules.
func (s *Spec[S]) Validate() error {
	if s == nil {
		return nil
	}
	if !s.Match.Valid() {
		return dkerrors.Configuration("filter.validate", fmt.Errorf("invalid match type %d", int(s.Match)))
	}
	for i, r := range s.Rules {
		if r == nil {
			return dkerrors.Configuration("filter.validate", fmt.Errorf("rule %d is nil", i))
		}
	}
	return nil
}

// Test evaluates the spec. A nil spec is always true.
func (s *Spec[S]) Test(ctx context.Context, subject S) (bool, error) {
	if s == nil {
		return true, nil
	}
	return Match(ctx, s.Match, s.Rules, subject)
}

// Predicate exposes the spec as a predicate so specs can nest.
func (s *Spec[S]) Predicate() Predicate[S] {
	return s.Test
}

// Not negates a predicate.
func Not[S any](p Predicate[S]) Predicate[S] {
	return func(ctx context.Context, subject S) (bool, error) {
		ok, err := p(ctx, subject)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}

// Func adapts a non-blocking boolean check into a predicate.
func Func[S any](fn func(S) bool) Predicate[S] {
	return func(_ context.Context, subject S) (bool, error) {
		return fn(subject), nil
	}
}
