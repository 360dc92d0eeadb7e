package prim

import (
	"context"
	"fmt"
	"sync"

	"github.com/NetPo4ki/isothread/errs"
)

// Once runs an action to completion exactly once across every thread that
// calls it with the same flag.
//
// Failure is sticky: when the winning action returns an error, that error is
// the outcome every caller sees from then on and the action never runs again.
// The one exception is cancellation: if the winner's context is cancelled
// while the action runs, the flag is re-armed and the next caller runs it.
type Once struct {
	mu      sync.Mutex
	running chan struct{}
	err     error
	done    bool
}

func newOnce() *Once { return &Once{} }

// Done reports whether the action has completed.
func (o *Once) Done() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Call runs action if no call has completed it yet. Concurrent callers block
// until the winner finishes and then return the winner's outcome.
func (o *Once) Call(ctx context.Context, action func(context.Context) error) error {
	for {
		o.mu.Lock()
		if o.done {
			err := o.err
			o.mu.Unlock()
			return err
		}
		if o.running == nil {
			ch := make(chan struct{})
			o.running = ch
			o.mu.Unlock()

			err := protect(ctx, action)

			o.mu.Lock()
			o.running = nil
			if err == nil || ctx.Err() == nil {
				o.done, o.err = true, err
			}
			close(ch)
			o.mu.Unlock()
			return err
		}
		ch := o.running
		o.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return errs.WithOp(errs.ErrCancelled, "once.call")
		}
	}
}

func protect(ctx context.Context, action func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return action(ctx)
}
