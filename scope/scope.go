package scope

import (
	"context"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/errs"
	"github.com/NetPo4ki/isothread/thread"
)

type Policy int

const (
	// FailFast cancels every thread of the scope on the first failure.
	FailFast Policy = iota
	// Supervisor records the first failure and lets siblings run.
	Supervisor
)

type Option func(*Options)

type Options struct {
	Observer       Observer
	MaxConcurrency int
}

func defaultOptions() Options { return Options{} }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }

// Observer receives scope events. Thread-level events go to the spawner's
// thread.Observer.
type Observer interface {
	ScopeCreated(ctx context.Context)
	ScopeCancelled(ctx context.Context, cause error)
	ScopeJoined(ctx context.Context, wait time.Duration)
	ThreadFinished(ctx context.Context, dur time.Duration, err error)
}

type Scope struct {
	ctx      context.Context
	cancel   context.CancelFunc
	policy   Policy
	sp       *thread.Spawner
	wg       sync.WaitGroup
	mu       sync.Mutex
	firstErr error
	canceled bool

	opts Options
	obs  Observer
	lim  Limiter
}

// New creates a scope whose threads are started by sp. Cancelling parent
// cancels the scope.
func New(parent context.Context, sp *thread.Spawner, policy Policy, optFns ...Option) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return newScope(parent, sp, policy, opts)
}

func newScope(parent context.Context, sp *thread.Spawner, policy Policy, opts Options) *Scope {
	ctx, cancel := context.WithCancel(parent)
	s := &Scope{ctx: ctx, cancel: cancel, policy: policy, sp: sp, opts: opts, obs: opts.Observer}
	s.lim = newSemaphoreLimiter(opts.MaxConcurrency)
	if s.obs != nil {
		s.obs.ScopeCreated(ctx)
	}
	return s
}

func (s *Scope) Context() context.Context { return s.ctx }

// Go starts entry(args...) on a new thread owned by the scope. entry and
// args belong to the calling isolate, so Go must run on that isolate's
// goroutine. It blocks while the scope is at its concurrency limit.
func (s *Scope) Go(a *attr.Thread, entry lua.LValue, args ...lua.LValue) error {
	if s.lim != nil {
		if err := s.lim.Acquire(s.ctx); err != nil {
			return errs.Operationf("scope.go", errs.ErrCancelled.Code, "scope cancelled while waiting for a slot")
		}
	}
	h, err := s.sp.Spawn(s.ctx, a, entry, args...)
	if err != nil {
		if s.lim != nil {
			s.lim.Release()
		}
		s.fail(err)
		return err
	}
	s.watch(h, s.lim != nil)
	return nil
}

// Adopt hands an existing handle to the scope, which joins and releases it.
func (s *Scope) Adopt(h *thread.Handle) {
	if h == nil {
		return
	}
	s.watch(h, false)
}

func (s *Scope) watch(h *thread.Handle, limited bool) {
	s.wg.Add(1)
	start := time.Now()
	go func() {
		defer s.wg.Done()
		defer h.Release()
		if limited {
			defer s.lim.Release()
		}
		select {
		case <-h.Done():
		case <-s.ctx.Done():
			_ = h.Cancel()
			<-h.Done()
		}
		res, err := h.Join(context.Background(), nil)
		if err == nil && res.Cancelled {
			if err = s.ctx.Err(); err == nil {
				err = errs.Operationf("scope.wait", errs.ErrCancelled.Code, "thread %d was cancelled", h.ID())
			}
		}
		if err != nil {
			s.fail(err)
		}
		if s.obs != nil {
			s.obs.ThreadFinished(s.ctx, time.Since(start), err)
		}
	}()
}

// Cancel requests cancellation of every thread in the scope. The first
// non-nil cause becomes Wait's error unless a failure came first.
func (s *Scope) Cancel(err error) {
	s.mu.Lock()
	wasCanceled := s.canceled
	s.canceled = true
	if s.firstErr == nil && err != nil {
		s.firstErr = err
	}
	cause := s.firstErr
	s.mu.Unlock()

	s.cancel()
	if !wasCanceled && s.obs != nil {
		s.obs.ScopeCancelled(s.ctx, cause)
	}
}

// Wait blocks until every thread of the scope has finished and returns the
// first failure. Results are discarded.
func (s *Scope) Wait() error {
	start := time.Now()
	s.wg.Wait()
	if s.obs != nil {
		s.obs.ScopeJoined(s.ctx, time.Since(start))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Scope) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	shouldCancel := s.policy == FailFast
	cause := s.firstErr
	s.mu.Unlock()
	if shouldCancel {
		s.Cancel(cause)
	}
}

// Child creates a scope cancelled together with s. s.Wait does not wait for
// the child's threads.
func (s *Scope) Child(policy Policy, optFns ...Option) *Scope {
	childOpts := s.opts
	for _, fn := range optFns {
		fn(&childOpts)
	}
	return newScope(s.ctx, s.sp, policy, childOpts)
}
