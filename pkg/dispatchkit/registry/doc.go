// Package registry provides a priority-ordered, concurrency-safe
// collection of entries supporting insert and removal while being
// iterated.
//
// Entries are ordered by ascending priority; entries with equal
// priority keep registration order.
//
// # Basic Usage
//
//	r := registry.New[Handler]()
//	h := r.Register(10, myHandler)
//
//	r.Range(func(e *registry.Entry[Handler]) bool {
//	    e.Value.Handle(evt)
//	    return true // continue iteration
//	})
//
//	h.Dispose() // idempotent
//
// # Disposal
//
// Every Register returns an *Entry, which is the strong Handle: it
// lives until Dispose is called. Weak wraps a handle so that it is
// disposed automatically once an owner value is garbage collected:
//
//	h := registry.Weak(owner, r.Register(0, fn))
//
// Range and Snapshot never deliver an entry whose Dispose has already
// returned. An iteration that is in flight while Dispose runs may or
// may not deliver that entry, but never delivers it twice.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Range walks a cached
// snapshot, so handlers may Register or Dispose during iteration;
// entries registered mid-walk are picked up by the next walk.
package registry
