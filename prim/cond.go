package prim

import (
	"context"
	"sync"
	"time"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/errs"
)

// Cond is a condition variable. Waiters are woken in arrival order.
type Cond struct {
	mu      sync.Mutex
	waiters []chan struct{}
	clock   attr.Clock
	shared  bool
}

func newCond(a *attr.Cond) *Cond {
	c := &Cond{clock: a.ClockOrDefault()}
	if a != nil && a.Shared != nil {
		c.shared = *a.Shared
	}
	return c
}

// Clock returns the clock deadlines passed to TimedWait are measured against.
func (c *Cond) Clock() attr.Clock { return c.clock }

// Wait atomically releases m, which self must hold, and blocks until
// signalled. m is held again when Wait returns, including on cancellation.
func (c *Cond) Wait(ctx context.Context, m *Mutex, self Owner) error {
	return c.wait(ctx, "cond.wait", m, self, time.Time{})
}

// TimedWait is Wait with an absolute deadline.
func (c *Cond) TimedWait(ctx context.Context, m *Mutex, self Owner, deadline time.Time) error {
	return c.wait(ctx, "cond.timedwait", m, self, deadline)
}

func (c *Cond) wait(ctx context.Context, op string, m *Mutex, self Owner, deadline time.Time) error {
	if m == nil || !m.IsOwned(self) {
		return errs.WithOp(errs.ErrNotOwner, op)
	}
	ch := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	depth := m.release(self)

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	var err error
	select {
	case <-ch:
	case <-ctx.Done():
		err = errs.WithOp(errs.ErrCancelled, op)
	case <-timeout:
		err = errs.WithOp(errs.ErrTimeout, op)
	}
	if err != nil && !c.withdraw(ch) {
		// A signal raced with the timeout or cancellation and picked us.
		if errs.CodeOf(err) == errs.ErrTimeout.Code {
			err = nil
		} else {
			c.Signal()
		}
	}
	m.reacquire(self, depth)
	return err
}

// withdraw removes ch from the wait queue. It reports false when ch was
// already dequeued by a signal.
func (c *Cond) withdraw(ch chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Signal wakes the longest-waiting waiter, if any.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return
	}
	close(c.waiters[0])
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
}

// Waiters returns the number of blocked waiters.
func (c *Cond) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
