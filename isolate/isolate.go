// Package isolate manages interpreter isolates: independent heaps with their
// own value stack, globals and standard libraries. Exactly one OS thread runs
// an isolate at a time; nothing is shared with other isolates except
// reference-counted handles and light pointers.
package isolate

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/NetPo4ki/isothread/cleanup"
	"github.com/NetPo4ki/isothread/errs"
)

// ID identifies an isolate, and therefore the thread running it.
type ID uint64

const registryKey = "isothread.isolate"

var (
	live   atomic.Int64
	nextID atomic.Uint64
)

// Live returns the number of isolates created and not yet closed.
func Live() int64 { return live.Load() }

// Options tune the interpreter state of a new isolate. Zero values keep the
// interpreter defaults.
type Options struct {
	CallStackSize   int
	RegistrySize    int
	RegistryMaxSize int
	SkipOpenLibs    bool
}

// Isolate is one interpreter heap plus its thread-local registries.
type Isolate struct {
	L     *lua.LState
	stack *cleanup.Stack

	mu     sync.Mutex
	owned  []io.Closer
	hooks  []func()
	locals map[any]any

	id     ID
	ctx    atomic.Pointer[context.Context]
	closed atomic.Bool
}

// New allocates an isolate with its own heap and standard library.
func New(opts Options) (iso *Isolate, err error) {
	defer func() {
		if r := recover(); r != nil {
			iso, err = nil, errs.Resource("isolate.new", fmt.Errorf("%v", r))
		}
	}()
	L := lua.NewState(lua.Options{
		CallStackSize:   opts.CallStackSize,
		RegistrySize:    opts.RegistrySize,
		RegistryMaxSize: opts.RegistryMaxSize,
		SkipOpenLibs:    opts.SkipOpenLibs,
	})
	iso = &Isolate{
		L:      L,
		stack:  cleanup.New(),
		locals: make(map[any]any),
		id:     ID(nextID.Add(1)),
	}
	ud := L.NewUserData()
	ud.Value = iso
	L.G.Registry.RawSetString(registryKey, ud)
	live.Add(1)
	return iso, nil
}

// From returns the isolate owning L.
func From(L *lua.LState) (*Isolate, bool) {
	ud, ok := L.G.Registry.RawGetString(registryKey).(*lua.LUserData)
	if !ok {
		return nil, false
	}
	iso, ok := ud.Value.(*Isolate)
	return iso, ok
}

// ID returns the isolate identity.
func (i *Isolate) ID() ID { return i.id }

// State returns the interpreter state.
func (i *Isolate) State() *lua.LState { return i.L }

// Cleanup returns the isolate's cleanup stack.
func (i *Isolate) Cleanup() *cleanup.Stack { return i.stack }

// Context returns the context observed by the blocking calls made from the
// isolate. It is never bound to the interpreter loop, so script code between
// blocking calls and explicit checks is not interrupted.
func (i *Isolate) Context() context.Context {
	if ctx := i.ctx.Load(); ctx != nil {
		return *ctx
	}
	return context.Background()
}

// SetContext replaces the context returned by Context.
func (i *Isolate) SetContext(ctx context.Context) {
	i.ctx.Store(&ctx)
}

// Own registers a wrapper released when the isolate is closed.
func (i *Isolate) Own(c io.Closer) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.owned = append(i.owned, c)
}

// Disown forgets a wrapper that was released explicitly.
func (i *Isolate) Disown(c io.Closer) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for k := len(i.owned) - 1; k >= 0; k-- {
		if i.owned[k] == c {
			i.owned = append(i.owned[:k], i.owned[k+1:]...)
			return
		}
	}
}

// Owned returns the number of wrappers the isolate holds.
func (i *Isolate) Owned() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.owned)
}

// OnExit registers a thread-local teardown hook, run by Close before the
// owned wrappers are released.
func (i *Isolate) OnExit(fn func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hooks = append(i.hooks, fn)
}

// Local returns a thread-local registry value.
func (i *Isolate) Local(key any) any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.locals[key]
}

// SetLocal stores a thread-local registry value.
func (i *Isolate) SetLocal(key, v any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.locals != nil {
		i.locals[key] = v
	}
}

// Closed reports whether Close ran.
func (i *Isolate) Closed() bool { return i.closed.Load() }

// Close destroys the isolate: exit hooks run most recent first, owned
// wrappers are released, then the heap is freed. Only the first call acts.
func (i *Isolate) Close() {
	if !i.closed.CompareAndSwap(false, true) {
		return
	}
	i.mu.Lock()
	hooks, owned := i.hooks, i.owned
	i.hooks, i.owned, i.locals = nil, nil, nil
	i.mu.Unlock()

	for k := len(hooks) - 1; k >= 0; k-- {
		hooks[k]()
	}
	for k := len(owned) - 1; k >= 0; k-- {
		_ = owned[k].Close()
	}
	i.L.Close()
	live.Add(-1)
}
