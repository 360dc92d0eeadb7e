package prim

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/errs"
)

// Owner identifies the thread calling into a primitive. Zero is nobody.
type Owner uint64

// Mutex is a mutual-exclusion lock that knows its owner.
type Mutex struct {
	sem      chan struct{}
	owner    atomic.Uint64
	depth    int // recursion depth, only touched by the owner
	typ      attr.MutexType
	protocol attr.Protocol
	ceiling  atomic.Int32
	spin     atomic.Int32
	yield    atomic.Int32
}

const adaptiveSpins = 100

func newMutex(a *attr.Mutex) (*Mutex, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	m := &Mutex{sem: make(chan struct{}, 1), typ: a.MutexType()}
	if a != nil && a.Protocol != nil {
		m.protocol = *a.Protocol
	}
	m.ceiling.Store(int32(a.Ceiling()))
	if m.typ == attr.MutexAdaptive {
		m.spin.Store(adaptiveSpins)
	}
	return m, nil
}

func (m *Mutex) tryAcquire() bool {
	select {
	case m.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Mutex) spinAcquire() bool {
	for i := int32(0); i < m.spin.Load(); i++ {
		if m.tryAcquire() {
			return true
		}
	}
	for i := int32(0); i < m.yield.Load(); i++ {
		runtime.Gosched()
		if m.tryAcquire() {
			return true
		}
	}
	return false
}

func (m *Mutex) take(self Owner, depth int) {
	m.owner.Store(uint64(self))
	m.depth = depth
}

// Type returns the mutex type.
func (m *Mutex) Type() attr.MutexType { return m.typ }

// Protocol returns the priority protocol.
func (m *Mutex) Protocol() attr.Protocol { return m.protocol }

// Lock blocks until the mutex is held by self or ctx is cancelled.
func (m *Mutex) Lock(ctx context.Context, self Owner) error {
	return m.lock(ctx, "mutex.lock", self, time.Time{})
}

// TimedLock is Lock with an absolute deadline.
func (m *Mutex) TimedLock(ctx context.Context, self Owner, deadline time.Time) error {
	return m.lock(ctx, "mutex.timedlock", self, deadline)
}

func (m *Mutex) lock(ctx context.Context, op string, self Owner, deadline time.Time) error {
	if self == 0 {
		return errs.WithOp(errs.ErrInvalid, op)
	}
	if Owner(m.owner.Load()) == self {
		switch m.typ {
		case attr.MutexRecursive:
			m.depth++
			return nil
		case attr.MutexErrorCheck:
			return errs.WithOp(errs.ErrDeadlock, op)
		}
		// Normal and adaptive mutexes deadlock on relock, as natively.
	}
	if m.tryAcquire() || m.spinAcquire() {
		m.take(self, 1)
		return nil
	}

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return errs.WithOp(errs.ErrTimeout, op)
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case m.sem <- struct{}{}:
		m.take(self, 1)
		return nil
	case <-ctx.Done():
		return errs.WithOp(errs.ErrCancelled, op)
	case <-timeout:
		return errs.WithOp(errs.ErrTimeout, op)
	}
}

// TryLock acquires the mutex only if it is free.
func (m *Mutex) TryLock(self Owner) error {
	const op = "mutex.trylock"
	if self == 0 {
		return errs.WithOp(errs.ErrInvalid, op)
	}
	if Owner(m.owner.Load()) == self && m.typ == attr.MutexRecursive {
		m.depth++
		return nil
	}
	if !m.tryAcquire() {
		return errs.WithOp(errs.ErrBusy, op)
	}
	m.take(self, 1)
	return nil
}

// Unlock releases one level of ownership held by self.
func (m *Mutex) Unlock(self Owner) error {
	if self == 0 || Owner(m.owner.Load()) != self {
		return errs.WithOp(errs.ErrNotOwner, "mutex.unlock")
	}
	if m.depth > 1 {
		m.depth--
		return nil
	}
	m.release(self)
	return nil
}

// release drops ownership entirely and returns the recursion depth held.
func (m *Mutex) release(self Owner) int {
	depth := m.depth
	m.depth = 0
	m.owner.Store(0)
	<-m.sem
	return depth
}

// reacquire blocks without a cancellation point, as a condition wait must
// own the mutex again before it returns.
func (m *Mutex) reacquire(self Owner, depth int) {
	m.sem <- struct{}{}
	m.take(self, depth)
}

// IsOwned reports whether self holds the mutex.
func (m *Mutex) IsOwned(self Owner) bool {
	return self != 0 && Owner(m.owner.Load()) == self
}

// SpinLoops returns how many non-blocking attempts Lock makes before yielding.
func (m *Mutex) SpinLoops() int { return int(m.spin.Load()) }

// SetSpinLoops tunes the spin phase of Lock.
func (m *Mutex) SetSpinLoops(n int) error {
	if n < 0 {
		return errs.WithOp(errs.ErrInvalid, "mutex.setspinloops")
	}
	m.spin.Store(int32(n))
	return nil
}

// YieldLoops returns how many yield-and-retry rounds Lock makes before blocking.
func (m *Mutex) YieldLoops() int { return int(m.yield.Load()) }

// SetYieldLoops tunes the yield phase of Lock.
func (m *Mutex) SetYieldLoops(n int) error {
	if n < 0 {
		return errs.WithOp(errs.ErrInvalid, "mutex.setyieldloops")
	}
	m.yield.Store(int32(n))
	return nil
}

// PrioCeiling returns the priority ceiling.
func (m *Mutex) PrioCeiling() int { return int(m.ceiling.Load()) }

// SetPrioCeiling changes the priority ceiling and returns the old one. Like
// the native call it takes the lock while doing so.
func (m *Mutex) SetPrioCeiling(ctx context.Context, self Owner, ceiling int) (int, error) {
	const op = "mutex.setprioceiling"
	if ceiling < 0 || ceiling > attr.MaxPriority {
		return 0, errs.WithOp(errs.ErrInvalid, op)
	}
	held := m.IsOwned(self)
	if !held {
		if err := m.lock(ctx, op, self, time.Time{}); err != nil {
			return 0, err
		}
		defer m.Unlock(self)
	}
	return int(m.ceiling.Swap(int32(ceiling))), nil
}
