package thread

import (
	"context"
	"time"

	"github.com/moby/sys/signal"
	lua "github.com/yuin/gopher-lua"

	"github.com/NetPo4ki/isothread/errs"
	"github.com/NetPo4ki/isothread/isolate"
	"github.com/NetPo4ki/isothread/refcount"
)

// Result is what a join observed. When Cancelled is set there are no values:
// the thread was cancelled and its value stack was never read.
type Result struct {
	Values    []lua.LValue
	Cancelled bool
}

// Handle is one owning reference to a thread. Several handles, possibly held
// by different isolates, may refer to the same thread.
type Handle struct {
	ref *refcount.Ref[*thread]
}

// RetainCookie resolves a thread cookie into a new handle.
func RetainCookie(cookie uintptr) (*Handle, error) {
	ref, err := refcount.Retain[*thread](KindThread, cookie)
	if err != nil {
		return nil, err
	}
	return &Handle{ref: ref}, nil
}

func (h *Handle) thread(op string) (*thread, error) {
	if h == nil || h.ref.Released() {
		return nil, errs.Operationf(op, errs.ErrInvalid.Code, "handle already released")
	}
	return h.ref.Get(), nil
}

// Join blocks until the thread exits, transfers its results into dst and
// destroys the thread's isolate. dst may be nil to discard the results.
// A thread can be joined once.
func (h *Handle) Join(ctx context.Context, dst *lua.LState) (Result, error) {
	return h.join(ctx, "thread.join", dst, true, time.Time{})
}

// PeekJoin joins a thread that already exited, or fails with ErrNotReady.
func (h *Handle) PeekJoin(dst *lua.LState) (Result, error) {
	return h.join(context.Background(), "thread.tryjoin", dst, false, time.Time{})
}

// TimedJoin is Join with an absolute deadline; on timeout it fails with
// ErrTimeout and the thread stays joinable.
func (h *Handle) TimedJoin(ctx context.Context, dst *lua.LState, deadline time.Time) (Result, error) {
	return h.join(ctx, "thread.timedjoin", dst, true, deadline)
}

func (h *Handle) join(ctx context.Context, op string, dst *lua.LState, block bool, deadline time.Time) (Result, error) {
	t, err := h.thread(op)
	if err != nil {
		return Result{}, err
	}
	if err := t.claim(op, block); err != nil {
		return Result{}, err
	}

	start := time.Now()
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-t.done:
	default:
		select {
		case <-t.done:
		case <-ctx.Done():
			t.unclaim()
			return Result{}, errs.WithOp(errs.ErrCancelled, op)
		case <-timeout:
			t.unclaim()
			return Result{}, errs.WithOp(errs.ErrTimeout, op)
		}
	}
	res, err := t.collect(op, dst)
	if t.sp.obs != nil {
		t.sp.obs.ThreadJoined(t.ctx, time.Since(start))
	}
	return res, err
}

// Detach makes the thread unjoinable. Its isolate is destroyed, results
// discarded, as soon as it exits.
func (h *Handle) Detach() error {
	t, err := h.thread("thread.detach")
	if err != nil {
		return err
	}
	return t.detach()
}

// Cancel requests cooperative cancellation. It takes effect at the next
// cancellation point inside the thread.
func (h *Handle) Cancel() error {
	t, err := h.thread("thread.cancel")
	if err != nil {
		return err
	}
	t.requestCancel()
	return nil
}

// Kill delivers a signal, given by name ("SIGUSR1", "USR1") or number, to the
// thread. Signal "0" only checks that the thread is still running.
func (h *Handle) Kill(sig string) error {
	const op = "thread.kill"
	t, err := h.thread(op)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return errs.WithOp(errs.ErrNoThread, op)
	}
	if sig == "0" {
		return nil
	}
	s, err := signal.ParseSignal(sig)
	if err != nil {
		return errs.New(errs.KindArgument).Op(op).Path("signal").Detail("unknown signal %q", sig).Cause(err).Build()
	}
	return tgkill(t.tid, s)
}

// Resume starts a thread created suspended. It is a no-op otherwise.
func (h *Handle) Resume() error {
	t, err := h.thread("thread.resume")
	if err != nil {
		return err
	}
	t.wake()
	return nil
}

// Retain returns a new independent handle to the same thread.
func (h *Handle) Retain() (*Handle, error) {
	ref, err := h.ref.Retain()
	if err != nil {
		return nil, err
	}
	return &Handle{ref: ref}, nil
}

// Cookie returns the light-pointer identity of the thread.
func (h *Handle) Cookie() uintptr { return h.ref.Cookie() }

// Equal reports whether both handles refer to the same thread.
func (h *Handle) Equal(o *Handle) bool { return o != nil && h.ref.Same(o.ref) }

// ID returns the identity of the thread's isolate, as seen by pthread.self
// inside it.
func (h *Handle) ID() isolate.ID { return h.ref.Get().iso.ID() }

// Done is closed when the thread exits.
func (h *Handle) Done() <-chan struct{} { return h.ref.Get().done }

// Release drops this handle. Releasing the last handle to a thread nobody
// joined detaches it.
func (h *Handle) Release() { h.ref.Release() }

// Close is Release, for use as an io.Closer.
func (h *Handle) Close() error {
	h.Release()
	return nil
}

// Released reports whether this handle was already released.
func (h *Handle) Released() bool { return h.ref.Released() }
