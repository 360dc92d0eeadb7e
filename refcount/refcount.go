// Package refcount implements atomically reference-counted cells around native
// resources that are shared by several isolates.
//
// No garbage collector owns a Handle. Retain and Release are the only mutation
// points, and the destroy function runs exactly once, on the 1 -> 0 transition,
// no matter which isolate dropped the last reference.
//
// Every handle is registered under a cookie: an opaque uintptr that may travel
// between isolates as a light pointer. Retain turns a cookie back into an
// owning reference.
package refcount

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/NetPo4ki/isothread/errs"
)

// Kind names the primitive a handle wraps ("mutex", "thread", ...).
type Kind string

type entry struct {
	kind   Kind
	handle any
}

var (
	mu      sync.RWMutex
	handles = make(map[uintptr]entry)
	// Cookies start away from zero so a nil light pointer never names a handle.
	nextCookie uintptr = 0x1000
)

func register(kind Kind, h any) uintptr {
	mu.Lock()
	defer mu.Unlock()
	c := nextCookie
	nextCookie += 0x10
	handles[c] = entry{kind: kind, handle: h}
	return c
}

func unregister(cookie uintptr) {
	mu.Lock()
	defer mu.Unlock()
	delete(handles, cookie)
}

func lookup(cookie uintptr) (entry, bool) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := handles[cookie]
	return e, ok
}

// Live returns the number of handles whose refcount has not reached zero.
func Live() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(handles)
}

// Handle pairs one resource with its reference count.
type Handle[T any] struct {
	resource T
	destroy  func(T)
	kind     Kind
	cookie   uintptr
	refs     atomic.Int64
}

// New wraps resource in a handle with refcount 1 and returns the first
// wrapper. destroy may be nil.
func New[T any](kind Kind, resource T, destroy func(T)) *Ref[T] {
	h := &Handle[T]{resource: resource, destroy: destroy, kind: kind}
	h.refs.Store(1)
	h.cookie = register(kind, h)
	return &Ref[T]{h: h}
}

// tryRetain increments the count unless it already reached zero.
func (h *Handle[T]) tryRetain() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (h *Handle[T]) release() {
	n := h.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic(fmt.Sprintf("refcount: %s handle %#x released below zero", h.kind, h.cookie))
	}
	unregister(h.cookie)
	Logger().Debug("handle destroyed", zap.String("kind", string(h.kind)), zap.Uintptr("cookie", h.cookie))
	if h.destroy != nil {
		h.destroy(h.resource)
	}
}

// Ref is one owning wrapper around a Handle. Each Ref contributes exactly one
// reference, dropped by Release.
type Ref[T any] struct {
	h        *Handle[T]
	released atomic.Bool
}

// Get returns the wrapped resource.
func (r *Ref[T]) Get() T { return r.h.resource }

// Kind returns the kind the handle was registered under.
func (r *Ref[T]) Kind() Kind { return r.h.kind }

// Cookie returns the light-pointer identity of the shared handle.
func (r *Ref[T]) Cookie() uintptr { return r.h.cookie }

// Refs returns the current reference count.
func (r *Ref[T]) Refs() int64 { return r.h.refs.Load() }

// Released reports whether this wrapper already dropped its reference.
func (r *Ref[T]) Released() bool { return r.released.Load() }

// Same reports whether both wrappers share a handle.
func (r *Ref[T]) Same(o *Ref[T]) bool { return o != nil && r.h == o.h }

// Retain adds a reference and returns a new independent wrapper.
func (r *Ref[T]) Retain() (*Ref[T], error) {
	if r.released.Load() || !r.h.tryRetain() {
		return nil, errs.Operationf(string(r.h.kind)+".retain", 0, "handle already released")
	}
	return &Ref[T]{h: r.h}, nil
}

// Release drops this wrapper's reference. Calling it again is a no-op.
func (r *Ref[T]) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.h.release()
	}
}

// Close is Release, for use as an io.Closer.
func (r *Ref[T]) Close() error {
	r.Release()
	return nil
}

// Retain resolves a cookie previously obtained from Ref.Cookie and returns a
// new owning wrapper. The cookie must name a live handle of the given kind.
func Retain[T any](kind Kind, cookie uintptr) (*Ref[T], error) {
	op := string(kind) + ".retain"
	e, ok := lookup(cookie)
	if !ok {
		return nil, errs.Argument(op, []string{"cookie"}, "%#x does not name a live handle", cookie)
	}
	if e.kind != kind {
		return nil, errs.Argument(op, []string{"cookie"}, "%#x names a %s, not a %s", cookie, e.kind, kind)
	}
	h, ok := e.handle.(*Handle[T])
	if !ok {
		return nil, errs.Argument(op, []string{"cookie"}, "%#x has an unexpected resource type", cookie)
	}
	if !h.tryRetain() {
		return nil, errs.Argument(op, []string{"cookie"}, "%#x was destroyed", cookie)
	}
	return &Ref[T]{h: h}, nil
}
