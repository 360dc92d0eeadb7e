package thread

import (
	"context"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/bridge"
	"github.com/NetPo4ki/isothread/errs"
	"github.com/NetPo4ki/isothread/isolate"
	"github.com/NetPo4ki/isothread/refcount"
)

// KindThread is the handle kind of a thread cookie.
const KindThread refcount.Kind = "thread"

// Spawner creates threads, each running its own isolate.
type Spawner struct {
	opts Options
	obs  Observer
	lim  Limiter
}

// NewSpawner returns a spawner configured by optFns.
func NewSpawner(optFns ...Option) *Spawner {
	s := &Spawner{opts: defaultOptions()}
	for _, fn := range optFns {
		fn(&s.opts)
	}
	s.obs = s.opts.Observer
	s.lim = newSemaphoreLimiter(s.opts.MaxThreads)
	return s
}

// NewIsolate allocates an isolate and runs every opener on it. Spawn uses it
// for children; callers use it for the root isolate.
func (s *Spawner) NewIsolate() (*isolate.Isolate, error) {
	iso, err := isolate.New(s.opts.Isolate)
	if err != nil {
		return nil, err
	}
	for _, open := range s.opts.Openers {
		if err := open(iso); err != nil {
			iso.Close()
			return nil, errs.Resource("isolate.open", err)
		}
	}
	return iso, nil
}

// Spawn starts entry(args...) on a new OS thread running a new isolate.
//
// entry and args are transferred out of their isolate before the thread
// exists. A value that cannot cross fails the spawn with an argument error
// naming its position, and nothing is left allocated. ctx only supplies
// values to observers; cancelling it does not cancel the thread. A nil a
// falls back to the spawner's defaults.
func (s *Spawner) Spawn(ctx context.Context, a *attr.Thread, entry lua.LValue, args ...lua.LValue) (*Handle, error) {
	const op = "thread.create"
	if a == nil {
		a = s.opts.Defaults
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if fn, ok := entry.(*lua.LFunction); !ok || fn.IsG {
		return nil, errs.Argument(op, []string{"entry"}, "expected a script function, got %s", typeName(entry))
	}

	iso, err := s.NewIsolate()
	if err != nil {
		return nil, err
	}
	fn, err := bridge.Export(op, entry, "entry")
	if err != nil {
		iso.Close()
		return nil, err
	}
	xs, err := bridge.ExportList(op, args, "argument", 1)
	if err != nil {
		iso.Close()
		return nil, err
	}
	if s.lim != nil && !s.lim.TryAcquire() {
		iso.Close()
		return nil, errs.Operationf(op, errs.ErrAgain.Code, "thread limit of %d reached", s.opts.MaxThreads)
	}

	L := iso.State()
	t := newThread(ctx, s, iso)
	ref := refcount.New(KindThread, t, (*thread).orphan)
	ack := make(chan error, 1)
	go t.run(ack, a, bridge.Import(L, fn), bridge.ImportList(L, xs))
	if err := <-ack; err != nil {
		t.abandon()
		ref.Release()
		Logger().Debug("thread start failed", zap.Error(err))
		return nil, err
	}
	if a.IsDetached() {
		_ = t.detach()
	}
	return &Handle{ref: ref}, nil
}

func typeName(v lua.LValue) string {
	if v == nil {
		return "nil"
	}
	if fn, ok := v.(*lua.LFunction); ok && fn.IsG {
		return "builtin function"
	}
	return v.Type().String()
}
