package prim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"gotest.tools/v3/assert"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/errs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustMutex(t *testing.T, typ attr.MutexType) *Mutex {
	t.Helper()
	m, err := newMutex(&attr.Mutex{Type: attr.Ptr(typ)})
	assert.NilError(t, err)
	return m
}

func TestMutexDefaultIsErrorCheck(t *testing.T) {
	t.Parallel()
	m, err := newMutex(nil)
	assert.NilError(t, err)
	assert.Equal(t, m.Type(), attr.MutexErrorCheck)

	ctx := context.Background()
	assert.NilError(t, m.Lock(ctx, 1))
	assert.Assert(t, errors.Is(m.Lock(ctx, 1), errs.ErrDeadlock))
	assert.Assert(t, errors.Is(m.Unlock(2), errs.ErrNotOwner))
	assert.NilError(t, m.Unlock(1))
	assert.Assert(t, errors.Is(m.Unlock(1), errs.ErrNotOwner))
}

func TestMutexTryLock(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexNormal)
	assert.NilError(t, m.TryLock(1))
	assert.Assert(t, errors.Is(m.TryLock(2), errs.ErrBusy))
	assert.Assert(t, m.IsOwned(1))
	assert.Assert(t, !m.IsOwned(2))
	assert.NilError(t, m.Unlock(1))
	assert.NilError(t, m.TryLock(2))
	assert.NilError(t, m.Unlock(2))
}

func TestMutexRecursive(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexRecursive)
	ctx := context.Background()
	assert.NilError(t, m.Lock(ctx, 1))
	assert.NilError(t, m.Lock(ctx, 1))
	assert.NilError(t, m.TryLock(1))
	assert.NilError(t, m.Unlock(1))
	assert.NilError(t, m.Unlock(1))
	assert.Assert(t, errors.Is(m.TryLock(2), errs.ErrBusy), "still held at depth 1")
	assert.NilError(t, m.Unlock(1))
	assert.NilError(t, m.TryLock(2))
	assert.NilError(t, m.Unlock(2))
}

func TestMutexTimedLock(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexNormal)
	ctx := context.Background()
	assert.NilError(t, m.Lock(ctx, 1))

	start := time.Now()
	err := m.TimedLock(ctx, 2, time.Now().Add(30*time.Millisecond))
	assert.Assert(t, errors.Is(err, errs.ErrTimeout), "got %v", err)
	assert.Assert(t, time.Since(start) >= 25*time.Millisecond)

	err = m.TimedLock(ctx, 2, time.Now().Add(-time.Second))
	assert.Assert(t, errors.Is(err, errs.ErrTimeout), "past deadline: %v", err)

	done := make(chan error, 1)
	go func() { done <- m.TimedLock(ctx, 2, time.Now().Add(2*time.Second)) }()
	time.Sleep(10 * time.Millisecond)
	assert.NilError(t, m.Unlock(1))
	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed lock did not acquire after unlock")
	}
	assert.NilError(t, m.Unlock(2))
}

func TestMutexLockCancelled(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexNormal)
	assert.NilError(t, m.Lock(context.Background(), 1))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Lock(ctx, 2) }()
	cancel()
	select {
	case err := <-done:
		assert.Assert(t, errors.Is(err, errs.ErrCancelled), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("cancelled lock did not return")
	}
	assert.Assert(t, m.IsOwned(1))
	assert.NilError(t, m.Unlock(1))
}

func TestMutexSpinTuning(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexAdaptive)
	assert.Equal(t, m.SpinLoops(), adaptiveSpins)
	assert.NilError(t, m.SetSpinLoops(5))
	assert.NilError(t, m.SetYieldLoops(3))
	assert.Equal(t, m.SpinLoops(), 5)
	assert.Equal(t, m.YieldLoops(), 3)
	assert.Assert(t, errors.Is(m.SetSpinLoops(-1), errs.ErrInvalid))
	assert.Assert(t, errors.Is(m.SetYieldLoops(-1), errs.ErrInvalid))
}

func TestMutexPrioCeiling(t *testing.T) {
	t.Parallel()
	m, err := newMutex(&attr.Mutex{PrioCeiling: attr.Ptr(10), Protocol: attr.Ptr(attr.ProtocolProtect)})
	assert.NilError(t, err)
	assert.Equal(t, m.Protocol(), attr.ProtocolProtect)
	old, err := m.SetPrioCeiling(context.Background(), 1, 20)
	assert.NilError(t, err)
	assert.Equal(t, old, 10)
	assert.Equal(t, m.PrioCeiling(), 20)
	assert.Assert(t, !m.IsOwned(1), "ceiling change must release the lock it took")

	_, err = m.SetPrioCeiling(context.Background(), 1, attr.MaxPriority+1)
	assert.Assert(t, errors.Is(err, errs.ErrInvalid))

	_, err = newMutex(&attr.Mutex{PrioCeiling: attr.Ptr(-1)})
	assert.Assert(t, errors.Is(err, errs.ErrArgument))
}

func TestMutexCounter(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexErrorCheck)
	const workers, iters = 4, 1000
	counter := 0
	var wg sync.WaitGroup
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(self Owner) {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				if err := m.Lock(context.Background(), self); err != nil {
					t.Errorf("lock: %v", err)
					return
				}
				counter++
				_ = m.Unlock(self)
			}
		}(Owner(w))
	}
	wg.Wait()
	assert.Equal(t, counter, workers*iters)
}

func TestCondSignalWakesInOrder(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexErrorCheck)
	c := newCond(nil)
	ctx := context.Background()

	woke := make(chan Owner, 2)
	for _, self := range []Owner{1, 2} {
		assert.NilError(t, m.Lock(ctx, self))
		go func(self Owner) {
			if err := c.Wait(ctx, m, self); err != nil {
				t.Errorf("wait: %v", err)
			}
			woke <- self
			_ = m.Unlock(self)
		}(self)
		waitFor(t, func() bool { return c.Waiters() == int(self) })
	}

	c.Signal()
	assert.Equal(t, <-woke, Owner(1))
	c.Signal()
	assert.Equal(t, <-woke, Owner(2))
	c.Signal() // no waiters, no effect
	assert.Equal(t, c.Waiters(), 0)
}

func TestCondBroadcast(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexErrorCheck)
	c := newCond(nil)
	ctx := context.Background()
	const n = 5
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		self := Owner(i)
		assert.NilError(t, m.Lock(ctx, self))
		go func() {
			defer wg.Done()
			if err := c.Wait(ctx, m, self); err != nil {
				t.Errorf("wait: %v", err)
			}
			_ = m.Unlock(self)
		}()
		waitFor(t, func() bool { return c.Waiters() == int(self) })
	}
	c.Broadcast()
	wg.Wait()
	assert.Equal(t, c.Waiters(), 0)
}

func TestCondTimedWait(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexErrorCheck)
	c := newCond(&attr.Cond{Clock: attr.Ptr(attr.ClockMonotonic)})
	assert.Equal(t, c.Clock(), attr.ClockMonotonic)
	ctx := context.Background()

	assert.NilError(t, m.Lock(ctx, 1))
	err := c.TimedWait(ctx, m, 1, c.Clock().Deadline(c.Clock().Now()+0.02))
	assert.Assert(t, errors.Is(err, errs.ErrTimeout), "got %v", err)
	assert.Assert(t, m.IsOwned(1), "mutex must be held again after a timeout")
	assert.Equal(t, c.Waiters(), 0)
	assert.NilError(t, m.Unlock(1))
}

func TestCondWaitRequiresOwnership(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexErrorCheck)
	c := newCond(nil)
	err := c.Wait(context.Background(), m, 1)
	assert.Assert(t, errors.Is(err, errs.ErrNotOwner))
}

func TestCondCancelReacquiresMutex(t *testing.T) {
	t.Parallel()
	m := mustMutex(t, attr.MutexRecursive)
	c := newCond(nil)
	ctx, cancel := context.WithCancel(context.Background())

	assert.NilError(t, m.Lock(ctx, 1))
	assert.NilError(t, m.Lock(ctx, 1))
	done := make(chan error, 1)
	go func() { done <- c.Wait(ctx, m, 1) }()
	waitFor(t, func() bool { return c.Waiters() == 1 })

	// Another thread holds the mutex when the cancellation arrives.
	assert.NilError(t, m.Lock(context.Background(), 2))
	cancel()
	time.Sleep(10 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("wait returned before the mutex was free: %v", err)
	default:
	}
	assert.NilError(t, m.Unlock(2))

	select {
	case err := <-done:
		assert.Assert(t, errors.Is(err, errs.ErrCancelled), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("cancelled wait did not return")
	}
	assert.Assert(t, m.IsOwned(1))
	assert.NilError(t, m.Unlock(1))
	assert.NilError(t, m.Unlock(1), "recursion depth must survive the wait")
	assert.Assert(t, !m.IsOwned(1))
}

func TestRWLockReadersShare(t *testing.T) {
	t.Parallel()
	rw := newRWLock(nil)
	ctx := context.Background()
	assert.NilError(t, rw.RdLock(ctx, 1))
	assert.NilError(t, rw.RdLock(ctx, 2))
	assert.Assert(t, errors.Is(rw.TryWrLock(3), errs.ErrBusy))
	assert.Assert(t, errors.Is(rw.WrLock(ctx, 1), errs.ErrDeadlock), "upgrade deadlocks")
	assert.NilError(t, rw.Unlock(1))
	assert.NilError(t, rw.Unlock(2))
	assert.Assert(t, errors.Is(rw.Unlock(2), errs.ErrNotOwner))

	assert.NilError(t, rw.TryWrLock(3))
	assert.Assert(t, errors.Is(rw.WrLock(ctx, 3), errs.ErrDeadlock))
	assert.Assert(t, errors.Is(rw.TryRdLock(1), errs.ErrBusy))
	assert.NilError(t, rw.Unlock(3))
}

func TestRWLockWriterPreferred(t *testing.T) {
	t.Parallel()
	rw := newRWLock(nil)
	ctx := context.Background()
	assert.NilError(t, rw.RdLock(ctx, 1))

	wrote := make(chan error, 1)
	go func() { wrote <- rw.WrLock(ctx, 2) }()
	waitFor(t, func() bool {
		rw.mu.Lock()
		defer rw.mu.Unlock()
		return rw.pending == 1
	})

	assert.Assert(t, errors.Is(rw.TryRdLock(3), errs.ErrBusy), "new reader must queue behind the writer")
	assert.NilError(t, rw.TryRdLock(1), "existing reader may recurse")
	assert.NilError(t, rw.Unlock(1))
	assert.NilError(t, rw.Unlock(1))

	select {
	case err := <-wrote:
		assert.NilError(t, err)
	case <-time.After(time.Second):
		t.Fatal("writer never acquired")
	}
	assert.NilError(t, rw.Unlock(2))
}

func TestRWLockTimed(t *testing.T) {
	t.Parallel()
	rw := newRWLock(nil)
	ctx := context.Background()
	assert.NilError(t, rw.WrLock(ctx, 1))
	err := rw.TimedRdLock(ctx, 2, time.Now().Add(20*time.Millisecond))
	assert.Assert(t, errors.Is(err, errs.ErrTimeout), "got %v", err)
	err = rw.TimedWrLock(ctx, 2, time.Now().Add(20*time.Millisecond))
	assert.Assert(t, errors.Is(err, errs.ErrTimeout), "got %v", err)
	assert.NilError(t, rw.Unlock(1))

	// The timed-out writer must not keep holding readers back.
	assert.NilError(t, rw.TryRdLock(2))
	assert.NilError(t, rw.Unlock(2))
}

func TestBarrierSerialOncePerGeneration(t *testing.T) {
	t.Parallel()
	const n = 4
	b, err := newBarrier(n, nil)
	assert.NilError(t, err)
	assert.Equal(t, b.Count(), n)

	for gen := 0; gen < 2; gen++ {
		var serials atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				serial, err := b.Wait(context.Background())
				if err != nil {
					t.Errorf("wait: %v", err)
				}
				if serial {
					serials.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, serials.Load(), int32(1), "generation %d", gen)
	}
}

func TestBarrierCancelledWaiterWithdraws(t *testing.T) {
	t.Parallel()
	b, err := newBarrier(2, nil)
	assert.NilError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Wait(ctx)
		done <- err
	}()
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.arrived == 1
	})
	cancel()
	assert.Assert(t, errors.Is(<-done, errs.ErrCancelled))

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			serial, _ := b.Wait(context.Background())
			results <- serial
		}()
	}
	first, second := <-results, <-results
	assert.Assert(t, first != second, "exactly one serial waiter")

	_, err = newBarrier(0, nil)
	assert.Assert(t, errors.Is(err, errs.ErrArgument))
}

func TestKeyPerThread(t *testing.T) {
	t.Parallel()
	k := newKey()
	assert.NilError(t, k.Set(1, 0x10))
	assert.NilError(t, k.Set(2, 0x20))
	assert.Equal(t, k.Get(1), uintptr(0x10))
	assert.Equal(t, k.Get(2), uintptr(0x20))
	assert.Equal(t, k.Get(3), uintptr(0))
	assert.Equal(t, k.Len(), 2)

	k.Forget(1)
	assert.Equal(t, k.Get(1), uintptr(0))
	assert.NilError(t, k.Set(2, 0))
	assert.Equal(t, k.Len(), 0)

	k.delete()
	assert.Assert(t, errors.Is(k.Set(1, 0x10), errs.ErrInvalid))
}

func TestOnceRunsOnce(t *testing.T) {
	t.Parallel()
	o := newOnce()
	var runs atomic.Int32
	release := make(chan struct{})
	action := func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}

	const callers = 8
	var wg sync.WaitGroup
	errc := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- o.Call(context.Background(), action)
		}()
	}
	waitFor(t, func() bool { return runs.Load() == 1 })
	close(release)
	wg.Wait()
	close(errc)
	for err := range errc {
		assert.NilError(t, err)
	}
	assert.Equal(t, runs.Load(), int32(1))
	assert.Assert(t, o.Done())
}

func TestOnceFailureIsSticky(t *testing.T) {
	t.Parallel()
	o := newOnce()
	boom := errors.New("boom")
	assert.ErrorIs(t, o.Call(context.Background(), func(context.Context) error { return boom }), boom)
	ran := false
	err := o.Call(context.Background(), func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, boom)
	assert.Assert(t, !ran)

	p := newOnce()
	err = p.Call(context.Background(), func(context.Context) error { panic("bad init") })
	assert.ErrorContains(t, err, "bad init")
	assert.Assert(t, p.Done())
}

func TestOnceCancelRearms(t *testing.T) {
	t.Parallel()
	o := newOnce()
	ctx, cancel := context.WithCancel(context.Background())
	err := o.Call(ctx, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Assert(t, !o.Done())

	assert.NilError(t, o.Call(context.Background(), func(context.Context) error { return nil }))
	assert.Assert(t, o.Done())
}

// Not parallel: the counters are package-wide.
func TestHandlesDestroyOnce(t *testing.T) {
	before := Destroyed(KindMutex)
	created := Created(KindMutex)
	r, err := NewMutex(nil)
	assert.NilError(t, err)
	assert.Equal(t, Created(KindMutex), created+1)

	r2, err := RetainMutex(r.Cookie())
	assert.NilError(t, err)
	assert.Assert(t, r2.Same(r))
	r.Release()
	assert.Equal(t, Destroyed(KindMutex), before)
	r2.Release()
	assert.Equal(t, Destroyed(KindMutex), before+1)

	_, err = RetainMutex(r.Cookie())
	assert.Assert(t, errors.Is(err, errs.ErrArgument))

	c := NewCond(nil)
	_, err = RetainMutex(c.Cookie())
	assert.Assert(t, errors.Is(err, errs.ErrArgument), "cookie of another kind")
	c.Release()

	k := NewKey()
	key := k.Get()
	assert.NilError(t, key.Set(1, 0x10))
	k.Release()
	assert.Assert(t, errors.Is(key.Set(1, 0x10), errs.ErrInvalid), "destroyed key rejects values")

	_, err = NewBarrier(-1, nil)
	assert.Assert(t, errors.Is(err, errs.ErrArgument))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}
