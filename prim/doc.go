// Package prim implements the synchronization primitives shared between
// isolates: mutex, condition variable, read/write lock, barrier, thread-local
// key and one-time-init flag.
//
// Each primitive mirrors its native counterpart one to one. Operations that
// depend on the calling thread take an Owner, the identity of the isolate
// making the call. Blocking operations take a context.Context; its
// cancellation is a cooperative cancellation point and surfaces as
// errs.ErrCancelled.
//
// Primitives are shared through refcount handles created with NewMutex,
// NewCond and friends, and resolved in another isolate with the matching
// Retain function.
package prim
