// Package event defines the immutable event values and the key
// hierarchy used to decide which listeners apply to an event.
//
// Adapters construct events with New and hand them to a dispatcher.
// The dispatcher never mutates an event after publish.
package event

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the read-only view the dispatcher needs of any event.
type Event interface {
	// ID is a unique, time-sortable identifier.
	ID() string

	// Key is the declared type of the event.
	Key() *Key

	// Source names the adapter that produced the event.
	Source() string

	// Timestamp is when the event occurred.
	Timestamp() time.Time

	// Data returns the payload.
	Data() any

	// Metadata returns a copy of the adapter-supplied string attributes.
	Metadata() map[string]string
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a monotonic ULID string.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Base is the generic Event implementation.
// T is the payload type for type-safe access.
type Base[T any] struct {
	id        string
	key       *Key
	source    string
	timestamp time.Time
	metadata  map[string]string
	payload   T
}

// ID implements Event.
func (e *Base[T]) ID() string { return e.id }

// Key implements Event.
func (e *Base[T]) Key() *Key { return e.key }

// Source implements Event.
func (e *Base[T]) Source() string { return e.source }

// Timestamp implements Event.
func (e *Base[T]) Timestamp() time.Time { return e.timestamp }

// Data implements Event.
func (e *Base[T]) Data() any { return e.payload }

// Payload returns the strongly-typed payload.
func (e *Base[T]) Payload() T { return e.payload }

// Metadata implements Event.
func (e *Base[T]) Metadata() map[string]string {
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// Option configures event creation.
type Option func(*options)

type options struct {
	id        string
	source    string
	timestamp time.Time
	metadata  map[string]string
}

// WithID sets a specific event ID (default: a new ULID).
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithSource sets the producing adapter's name.
func WithSource(source string) Option {
	return func(o *options) { o.source = source }
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(o *options) { o.timestamp = t }
}

// WithMetadata adds a metadata attribute.
func WithMetadata(k, v string) Option {
	return func(o *options) {
		if o.metadata == nil {
			o.metadata = make(map[string]string)
		}
		o.metadata[k] = v
	}
}

// New creates an event of the given key carrying payload.
// A nil key means Root.
func New[T any](key *Key, payload T, opts ...Option) *Base[T] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.id == "" {
		o.id = NewID()
	}
	if o.timestamp.IsZero() {
		o.timestamp = time.Now()
	}
	if key == nil {
		key = Root
	}

	return &Base[T]{
		id:        o.id,
		key:       key,
		source:    o.source,
		timestamp: o.timestamp,
		metadata:  o.metadata,
		payload:   payload,
	}
}
