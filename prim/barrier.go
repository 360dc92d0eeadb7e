package prim

import (
	"context"
	"sync"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/errs"
)

// Barrier releases its waiters in groups of count.
type Barrier struct {
	mu      sync.Mutex
	count   int
	arrived int
	gen     chan struct{} // closed when the current generation completes
	shared  bool
}

func newBarrier(count int, a *attr.Barrier) (*Barrier, error) {
	if count <= 0 {
		return nil, errs.Argument("barrier.new", []string{"count"}, "must be positive, got %d", count)
	}
	b := &Barrier{count: count, gen: make(chan struct{})}
	if a != nil && a.Shared != nil {
		b.shared = *a.Shared
	}
	return b, nil
}

// Count returns the number of waiters per generation.
func (b *Barrier) Count() int { return b.count }

// Wait blocks until count waiters have arrived for the current generation.
// Exactly one waiter per generation gets serial == true.
//
// A waiter cancelled before its generation completes withdraws, so the
// generation still needs count live arrivals.
func (b *Barrier) Wait(ctx context.Context) (serial bool, err error) {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.count {
		b.arrived = 0
		close(b.gen)
		b.gen = make(chan struct{})
		b.mu.Unlock()
		return true, nil
	}
	gen := b.gen
	b.mu.Unlock()

	select {
	case <-gen:
		return false, nil
	case <-ctx.Done():
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-gen:
		// Completed while we were being cancelled.
		return false, nil
	default:
	}
	b.arrived--
	return false, errs.WithOp(errs.ErrCancelled, "barrier.wait")
}
