package registry

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// degree of the ordered index. Listener sets are small, so a shallow
// tree with wide nodes keeps snapshots cheap.
const degree = 16

// Handle disposes a registration.
type Handle interface {
	// Dispose removes the registration. Safe to call more than once.
	Dispose()

	// Disposed reports whether the registration is gone.
	Disposed() bool
}

// Entry is a registered value. It is the strong Handle for itself.
type Entry[T any] struct {
	// Priority orders entries; lower runs earlier.
	Priority int

	// Value is the registered value.
	Value T

	seq       uint64
	disposed  atomic.Bool
	reg       *Registry[T]
	onDispose func()
}

// Dispose removes the entry from its registry. The second and later
// calls are no-ops.
func (e *Entry[T]) Dispose() {
	if !e.disposed.CompareAndSwap(false, true) {
		return
	}
	e.reg.remove(e)
	if e.onDispose != nil {
		e.onDispose()
	}
}

// Disposed reports whether Dispose has been called.
func (e *Entry[T]) Disposed() bool {
	return e.disposed.Load()
}

// Seq returns the entry's registration sequence number.
func (e *Entry[T]) Seq() uint64 {
	return e.seq
}

func less[T any](a, b *Entry[T]) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.seq < b.seq
}

// Registry is a priority-ordered set of entries.
type Registry[T any] struct {
	mu    sync.RWMutex
	tree  *btree.BTreeG[*Entry[T]]
	seq   uint64
	snap  []*Entry[T]
	valid bool
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		tree: btree.NewG(degree, less[T]),
	}
}

// Option configures a single registration.
type Option func(*entryConfig)

type entryConfig struct {
	onDispose func()
}

// OnDispose sets a callback run once, after the entry is removed.
func OnDispose(fn func()) Option {
	return func(c *entryConfig) { c.onDispose = fn }
}

// Register inserts value at priority and returns its entry.
// Insertion is O(log n).
func (r *Registry[T]) Register(priority int, value T, opts ...Option) *Entry[T] {
	var cfg entryConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e := &Entry[T]{
		Priority:  priority,
		Value:     value,
		seq:       r.seq,
		reg:       r,
		onDispose: cfg.onDispose,
	}
	r.tree.ReplaceOrInsert(e)
	r.valid = false
	return e
}

func (r *Registry[T]) remove(e *Entry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tree.Delete(e); ok {
		r.valid = false
	}
}

// Snapshot returns the live entries in order. The returned slice is
// shared between callers and must not be modified.
func (r *Registry[T]) Snapshot() []*Entry[T] {
	r.mu.RLock()
	if r.valid {
		snap := r.snap
		r.mu.RUnlock()
		return snap
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another writer may have rebuilt it between the locks.
	if r.valid {
		return r.snap
	}
	snap := make([]*Entry[T], 0, r.tree.Len())
	r.tree.Ascend(func(e *Entry[T]) bool {
		snap = append(snap, e)
		return true
	})
	r.snap = snap
	r.valid = true
	return snap
}

// Range calls fn for each live entry in ascending order until fn
// returns false. Entries disposed before they are reached are skipped.
func (r *Registry[T]) Range(fn func(*Entry[T]) bool) {
	for _, e := range r.Snapshot() {
		if e.Disposed() {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Len()
}

// Clear disposes every entry.
func (r *Registry[T]) Clear() {
	for _, e := range r.Snapshot() {
		e.Dispose()
	}
}
