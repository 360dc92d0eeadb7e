package prim

import (
	"sync/atomic"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/refcount"
)

// Handle kinds. A cookie only resolves through Retain of its own kind.
const (
	KindMutex   refcount.Kind = "mutex"
	KindCond    refcount.Kind = "cond"
	KindRWLock  refcount.Kind = "rwlock"
	KindBarrier refcount.Kind = "barrier"
	KindKey     refcount.Kind = "key"
	KindOnce    refcount.Kind = "once"
)

type counter struct {
	created   atomic.Int64
	destroyed atomic.Int64
}

var counters = map[refcount.Kind]*counter{
	KindMutex:   {},
	KindCond:    {},
	KindRWLock:  {},
	KindBarrier: {},
	KindKey:     {},
	KindOnce:    {},
}

// Created returns how many primitives of kind were allocated.
func Created(kind refcount.Kind) int64 { return counters[kind].created.Load() }

// Destroyed returns how many primitives of kind were destroyed.
func Destroyed(kind refcount.Kind) int64 { return counters[kind].destroyed.Load() }

func wrap[T any](kind refcount.Kind, v T, destroy func(T)) *refcount.Ref[T] {
	c := counters[kind]
	c.created.Add(1)
	return refcount.New(kind, v, func(x T) {
		if destroy != nil {
			destroy(x)
		}
		c.destroyed.Add(1)
	})
}

// NewMutex allocates a mutex and returns its first owning reference.
func NewMutex(a *attr.Mutex) (*refcount.Ref[*Mutex], error) {
	m, err := newMutex(a)
	if err != nil {
		return nil, err
	}
	return wrap(KindMutex, m, nil), nil
}

// RetainMutex resolves a mutex cookie.
func RetainMutex(cookie uintptr) (*refcount.Ref[*Mutex], error) {
	return refcount.Retain[*Mutex](KindMutex, cookie)
}

// NewCond allocates a condition variable.
func NewCond(a *attr.Cond) *refcount.Ref[*Cond] {
	return wrap(KindCond, newCond(a), nil)
}

// RetainCond resolves a condition variable cookie.
func RetainCond(cookie uintptr) (*refcount.Ref[*Cond], error) {
	return refcount.Retain[*Cond](KindCond, cookie)
}

// NewRWLock allocates a read/write lock.
func NewRWLock(a *attr.RWLock) *refcount.Ref[*RWLock] {
	return wrap(KindRWLock, newRWLock(a), nil)
}

// RetainRWLock resolves a read/write lock cookie.
func RetainRWLock(cookie uintptr) (*refcount.Ref[*RWLock], error) {
	return refcount.Retain[*RWLock](KindRWLock, cookie)
}

// NewBarrier allocates a barrier releasing count waiters per generation.
func NewBarrier(count int, a *attr.Barrier) (*refcount.Ref[*Barrier], error) {
	b, err := newBarrier(count, a)
	if err != nil {
		return nil, err
	}
	return wrap(KindBarrier, b, nil), nil
}

// RetainBarrier resolves a barrier cookie.
func RetainBarrier(cookie uintptr) (*refcount.Ref[*Barrier], error) {
	return refcount.Retain[*Barrier](KindBarrier, cookie)
}

// NewKey allocates a thread-local key. Destroying the last reference deletes
// the key.
func NewKey() *refcount.Ref[*Key] {
	return wrap(KindKey, newKey(), (*Key).delete)
}

// RetainKey resolves a key cookie.
func RetainKey(cookie uintptr) (*refcount.Ref[*Key], error) {
	return refcount.Retain[*Key](KindKey, cookie)
}

// NewOnce allocates a one-time-init flag.
func NewOnce() *refcount.Ref[*Once] {
	return wrap(KindOnce, newOnce(), nil)
}

// RetainOnce resolves a once-flag cookie.
func RetainOnce(cookie uintptr) (*refcount.Ref[*Once], error) {
	return refcount.Retain[*Once](KindOnce, cookie)
}
