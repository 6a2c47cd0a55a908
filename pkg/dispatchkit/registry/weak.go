package registry

import (
	"runtime"
	"weak"
)

// WeakHandle disposes its inner handle when the owner it was bound to
// becomes unreachable.
type WeakHandle[O any] struct {
	owner   weak.Pointer[O]
	inner   Handle
	cleanup runtime.Cleanup
}

// Weak binds h to the lifetime of owner. Once owner is garbage
// collected, h is disposed. The caller must not keep owner reachable
// from the registered value, or owner is never collected.
func Weak[O any](owner *O, h Handle) *WeakHandle[O] {
	return &WeakHandle[O]{
		owner:   weak.Make(owner),
		inner:   h,
		cleanup: runtime.AddCleanup(owner, func(inner Handle) { inner.Dispose() }, h),
	}
}

// Owner returns the owner, or nil once it has been collected.
func (w *WeakHandle[O]) Owner() *O {
	return w.owner.Value()
}

// Dispose disposes the inner handle now and cancels the pending cleanup.
func (w *WeakHandle[O]) Dispose() {
	w.cleanup.Stop()
	w.inner.Dispose()
}

// Disposed reports true once the inner handle is disposed or the owner
// has been collected, whichever comes first.
func (w *WeakHandle[O]) Disposed() bool {
	return w.inner.Disposed() || w.owner.Value() == nil
}
