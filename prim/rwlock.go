package prim

import (
	"context"
	"sync"
	"time"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/errs"
)

// RWLock is a read/write lock that prefers writers: a waiting writer holds
// back new readers, except readers that already hold a read lock.
type RWLock struct {
	mu       sync.Mutex
	readers  map[Owner]int
	nreaders int
	writer   Owner
	pending  int // writers waiting
	changed  chan struct{}
	shared   bool
}

func newRWLock(a *attr.RWLock) *RWLock {
	rw := &RWLock{readers: make(map[Owner]int), changed: make(chan struct{})}
	if a != nil && a.Shared != nil {
		rw.shared = *a.Shared
	}
	return rw
}

// notify wakes everybody waiting for a state change. Callers hold rw.mu.
func (rw *RWLock) notify() {
	close(rw.changed)
	rw.changed = make(chan struct{})
}

func (rw *RWLock) canRead(self Owner) bool {
	return rw.writer == 0 && (rw.pending == 0 || rw.readers[self] > 0)
}

func (rw *RWLock) canWrite() bool {
	return rw.writer == 0 && rw.nreaders == 0
}

// RdLock blocks until self holds a read lock.
func (rw *RWLock) RdLock(ctx context.Context, self Owner) error {
	return rw.acquire(ctx, "rwlock.rdlock", self, false, true, time.Time{})
}

// WrLock blocks until self holds the write lock.
func (rw *RWLock) WrLock(ctx context.Context, self Owner) error {
	return rw.acquire(ctx, "rwlock.wrlock", self, true, true, time.Time{})
}

// TryRdLock takes a read lock only if available now.
func (rw *RWLock) TryRdLock(self Owner) error {
	return rw.acquire(context.Background(), "rwlock.tryrdlock", self, false, false, time.Time{})
}

// TryWrLock takes the write lock only if available now.
func (rw *RWLock) TryWrLock(self Owner) error {
	return rw.acquire(context.Background(), "rwlock.trywrlock", self, true, false, time.Time{})
}

// TimedRdLock is RdLock with an absolute deadline.
func (rw *RWLock) TimedRdLock(ctx context.Context, self Owner, deadline time.Time) error {
	return rw.acquire(ctx, "rwlock.timedrdlock", self, false, true, deadline)
}

// TimedWrLock is WrLock with an absolute deadline.
func (rw *RWLock) TimedWrLock(ctx context.Context, self Owner, deadline time.Time) error {
	return rw.acquire(ctx, "rwlock.timedwrlock", self, true, true, deadline)
}

func (rw *RWLock) acquire(ctx context.Context, op string, self Owner, write, block bool, deadline time.Time) error {
	if self == 0 {
		return errs.WithOp(errs.ErrInvalid, op)
	}
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	rw.mu.Lock()
	if rw.writer == self || (write && rw.readers[self] > 0) {
		rw.mu.Unlock()
		return errs.WithOp(errs.ErrDeadlock, op)
	}
	waiting := false
	defer func() {
		if waiting {
			rw.mu.Lock()
			rw.pending--
			rw.notify()
			rw.mu.Unlock()
		}
	}()
	for {
		if write && rw.canWrite() {
			rw.writer = self
			if waiting {
				rw.pending--
				waiting = false
			}
			rw.mu.Unlock()
			return nil
		}
		if !write && rw.canRead(self) {
			rw.readers[self]++
			rw.nreaders++
			rw.mu.Unlock()
			return nil
		}
		if !block {
			rw.mu.Unlock()
			return errs.WithOp(errs.ErrBusy, op)
		}
		if write && !waiting {
			rw.pending++
			waiting = true
		}
		ch := rw.changed
		rw.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return errs.WithOp(errs.ErrCancelled, op)
		case <-timeout:
			return errs.WithOp(errs.ErrTimeout, op)
		}
		rw.mu.Lock()
	}
}

// Unlock releases the write lock if self holds it, otherwise one of self's
// read locks.
func (rw *RWLock) Unlock(self Owner) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	switch {
	case self != 0 && rw.writer == self:
		rw.writer = 0
	case self != 0 && rw.readers[self] > 0:
		rw.readers[self]--
		if rw.readers[self] == 0 {
			delete(rw.readers, self)
		}
		rw.nreaders--
	default:
		return errs.WithOp(errs.ErrNotOwner, "rwlock.unlock")
	}
	rw.notify()
	return nil
}
