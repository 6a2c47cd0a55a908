package errors

import (
	"errors"
	"fmt"
)

// Category says whether re-invoking a failed listener can succeed.
type Category int

const (
	// CategoryTransient failures may clear up on their own: a listener
	// deadline, a busy downstream.
	CategoryTransient Category = iota

	// CategoryPermanent failures repeat on every attempt.
	CategoryPermanent
)

var categoryNames = [...]string{
	CategoryTransient: "transient",
	CategoryPermanent: "permanent",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// CategorizedError pins a category on an error, overriding what
// Categorize would infer from its Kind.
type CategorizedError struct {
	Err      error
	Category Category
	// Retries is how many attempts had been made when the error was
	// produced. Set by WithRetry when it gives up.
	Retries int
	// Context names the operation, e.g. "reserve" or "max retries exceeded".
	Context string
}

func (e *CategorizedError) Error() string {
	msg := fmt.Sprintf("%v [%s", e.Err, e.Category)
	if e.Retries > 0 {
		msg += fmt.Sprintf(", %d attempts", e.Retries)
	}
	msg += "]"
	if e.Context == "" {
		return msg
	}
	return e.Context + ": " + msg
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// NewCategorized attaches category to err.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: category, Context: context}
}

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent marks err as not worth retrying, even when its Kind would
// say otherwise.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// temporary is implemented by errors such as net.Error that know
// whether they are passing.
type temporary interface {
	Temporary() bool
}

// Categorize classifies err. In order: an explicit CategorizedError
// anywhere in the chain, a Temporary() method, then the Kind, where
// only Timeout is transient. nil is permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return CategoryTransient
	}

	switch KindOf(err) {
	case KindTimeout:
		return CategoryTransient
	default:
		return CategoryPermanent
	}
}

// IsRetryable reports whether Categorize(err) is transient.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
