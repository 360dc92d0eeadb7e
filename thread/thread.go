package thread

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/bridge"
	"github.com/NetPo4ki/isothread/errs"
	"github.com/NetPo4ki/isothread/isolate"
)

type threadKey struct{}

type exitKey struct{}

type cancelKey struct{}

// thread is the shared state behind every Handle to one OS thread.
type thread struct {
	sp     *Spawner
	iso    *isolate.Isolate
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	resume    chan struct{}
	resumed   sync.Once
	requested atomic.Bool

	mu       sync.Mutex
	tid      int
	finished bool
	joined   bool
	detached bool

	// Written by the body before done is closed.
	outcome Outcome
	values  []lua.LValue
	err     *errs.Error
}

func newThread(ctx context.Context, sp *Spawner, iso *isolate.Isolate) *thread {
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &thread{
		sp:     sp,
		iso:    iso,
		ctx:    tctx,
		cancel: cancel,
		done:   make(chan struct{}),
		resume: make(chan struct{}),
	}
	iso.SetLocal(threadKey{}, t)
	iso.SetContext(tctx)
	return t
}

// run is the thread body. The goroutine stays locked to its OS thread for its
// whole life, so the OS thread exits together with it.
func (t *thread) run(ack chan<- error, a *attr.Thread, entry lua.LValue, args []lua.LValue) {
	runtime.LockOSThread()
	tid, err := configure(a)
	if err != nil {
		ack <- err
		return
	}
	t.mu.Lock()
	t.tid = tid
	t.mu.Unlock()
	ack <- nil

	start := time.Now()
	if t.sp.obs != nil {
		t.sp.obs.ThreadStarted(t.ctx)
	}
	Logger().Debug("thread started", zap.Uint64("isolate", uint64(t.iso.ID())), zap.Int("tid", tid))

	if a.IsSuspended() {
		select {
		case <-t.resume:
		case <-t.ctx.Done():
		}
	}
	t.execute(entry, args)
	t.finish(time.Since(start))
}

// execute runs entry unless a cancel arrived first. The thread context is
// only observed at cancellation points: here, in blocking calls and in
// CheckCancel.
func (t *thread) execute(entry lua.LValue, args []lua.LValue) {
	L := t.iso.State()
	if t.ctx.Err() != nil {
		t.outcome = Cancelled
	} else {
		base := L.GetTop()
		err := L.CallByParam(lua.P{Fn: entry, NRet: lua.MultRet, Protect: true}, args...)

		exit, exited := t.iso.Local(exitKey{}).([]lua.LValue)
		switch {
		case t.iso.Local(cancelKey{}) != nil:
			t.outcome = Cancelled
		case exited:
			t.outcome, t.values = Completed, exit
		case err == nil:
			t.outcome = Completed
			for i := base + 1; i <= L.GetTop(); i++ {
				t.values = append(t.values, L.Get(i))
			}
		default:
			t.outcome, t.err = Failed, failure(err)
		}
	}
	for _, err := range t.iso.Cleanup().Unwind(L) {
		Logger().Warn("cleanup handler failed", zap.Uint64("isolate", uint64(t.iso.ID())), zap.Error(err))
	}
}

func failure(err error) *errs.Error {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	return errs.New(errs.KindOperation).Op("thread.join").Detail("thread failed: %s", msg).Cause(err).Build()
}

func (t *thread) finish(dur time.Duration) {
	t.mu.Lock()
	t.finished = true
	detached := t.detached
	t.mu.Unlock()

	if detached {
		t.iso.Close()
	}
	if t.sp.lim != nil {
		t.sp.lim.Release()
	}
	Logger().Debug("thread finished",
		zap.Uint64("isolate", uint64(t.iso.ID())),
		zap.Stringer("outcome", t.outcome),
		zap.Duration("duration", dur))
	if t.sp.obs != nil {
		t.sp.obs.ThreadFinished(t.ctx, dur, t.outcome)
	}
	close(t.done)
	t.cancel()
}

// abandon undoes a spawn whose thread failed to start.
func (t *thread) abandon() {
	t.mu.Lock()
	t.joined = true
	t.mu.Unlock()
	t.cancel()
	t.iso.Close()
	if t.sp.lim != nil {
		t.sp.lim.Release()
	}
}

func (t *thread) detach() error {
	t.mu.Lock()
	if t.detached || t.joined {
		t.mu.Unlock()
		return errs.WithOp(errs.ErrInvalid, "thread.detach")
	}
	t.detached = true
	finished := t.finished
	t.mu.Unlock()
	if finished {
		t.iso.Close()
	}
	return nil
}

// orphan runs when the last handle is released. An unjoined thread is
// detached so its isolate is reclaimed when it exits.
func (t *thread) orphan() {
	if err := t.detach(); err == nil {
		Logger().Debug("unjoined thread detached on release", zap.Uint64("isolate", uint64(t.iso.ID())))
	}
}

func (t *thread) claim(op string, block bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached || t.joined {
		return errs.WithOp(errs.ErrInvalid, op)
	}
	if !block && !t.finished {
		return errs.WithOp(errs.ErrNotReady, op)
	}
	t.joined = true
	return nil
}

func (t *thread) unclaim() {
	t.mu.Lock()
	t.joined = false
	t.mu.Unlock()
}

// collect reads the outcome of a finished thread and destroys its isolate.
func (t *thread) collect(op string, dst *lua.LState) (Result, error) {
	defer t.iso.Close()
	switch t.outcome {
	case Cancelled:
		return Result{Cancelled: true}, nil
	case Failed:
		return Result{}, errs.WithOp(t.err, op)
	}
	if dst == nil {
		return Result{}, nil
	}
	vs, err := bridge.TransferList(op, dst, t.values, "result", 1)
	if err != nil {
		return Result{}, err
	}
	return Result{Values: vs}, nil
}

func (t *thread) requestCancel() {
	t.mu.Lock()
	finished := t.finished
	t.mu.Unlock()
	if !finished && t.requested.CompareAndSwap(false, true) {
		Logger().Debug("thread cancel requested", zap.Uint64("isolate", uint64(t.iso.ID())))
		if t.sp.obs != nil {
			t.sp.obs.ThreadCancelled(t.ctx)
		}
	}
	t.cancel()
}

func (t *thread) wake() {
	t.resumed.Do(func() { close(t.resume) })
}

// ignored logs the attributes the Go runtime has no way to honor.
func ignored(a *attr.Thread) {
	if a == nil {
		return
	}
	log := Logger()
	if a.StackAddr != nil {
		log.Debug("thread attribute ignored", zap.String("attr", "stackaddr"))
	}
	if a.StackSize != nil {
		log.Debug("thread attribute ignored", zap.String("attr", "stacksize"), zap.Int("value", *a.StackSize))
	}
	if a.GuardSize != nil {
		log.Debug("thread attribute ignored", zap.String("attr", "guardsize"), zap.Int("value", *a.GuardSize))
	}
	if (a.SchedPolicy != nil || a.SchedPriority != nil) && !a.ExplicitSched() {
		log.Debug("scheduling attributes inherited", zap.String("attr", "inheritsched"))
	}
}

// Exit ends the calling thread as if its entry function had returned values.
// It never returns.
func Exit(L *lua.LState, values ...lua.LValue) {
	iso, ok := isolate.From(L)
	if !ok || iso.Local(threadKey{}) == nil {
		L.RaiseError("exit called outside a spawned thread")
		return
	}
	iso.SetLocal(exitKey{}, append([]lua.LValue{}, values...))
	L.RaiseError("thread exit")
}

// CheckCancel is an explicit cancellation point: it unwinds the calling
// thread if a cancel was requested. Once acted upon, the thread ends as
// cancelled even if the script catches the error.
func CheckCancel(L *lua.LState) {
	iso, ok := isolate.From(L)
	if !ok || iso.Context().Err() == nil {
		return
	}
	if iso.Local(threadKey{}) != nil {
		iso.SetLocal(cancelKey{}, true)
	}
	L.RaiseError("thread cancelled")
}
