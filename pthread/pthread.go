// Package pthread is the script-facing threading module. It is installed as
// the global table "pthread" in every isolate created by a spawner from
// NewSpawner, and in root isolates opened with Open.
//
// Operation failures (a busy trylock, a timed-out wait, a second join) return
// nil, a message and an errno number. Malformed arguments raise.
package pthread

import (
	"errors"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sys/unix"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/bridge"
	"github.com/NetPo4ki/isothread/errs"
	"github.com/NetPo4ki/isothread/isolate"
	"github.com/NetPo4ki/isothread/prim"
	"github.com/NetPo4ki/isothread/thread"
)

// ModuleName is the global the module is installed under.
const ModuleName = "pthread"

// BarrierSerialThread is what barrier:wait returns to the one serial waiter
// of each generation.
const BarrierSerialThread = -1

// canceled is the light pointer join reports for a cancelled thread.
const canceled = ^bridge.Pointer(0)

var errnos = map[string]unix.Errno{
	"EAGAIN":    unix.EAGAIN,
	"EBUSY":     unix.EBUSY,
	"ECANCELED": unix.ECANCELED,
	"EDEADLK":   unix.EDEADLK,
	"EINVAL":    unix.EINVAL,
	"EPERM":     unix.EPERM,
	"ESRCH":     unix.ESRCH,
	"ETIMEDOUT": unix.ETIMEDOUT,
}

// NewSpawner returns a spawner whose threads all get the module.
func NewSpawner(optFns ...thread.Option) *thread.Spawner {
	var sp *thread.Spawner
	opener := func(iso *isolate.Isolate) error { return Open(iso, sp) }
	sp = thread.NewSpawner(append(optFns, thread.WithOpener(opener))...)
	return sp
}

type module struct {
	iso *isolate.Isolate
	sp  *thread.Spawner
	tbl *lua.LTable
}

// Open installs the module in iso. Threads created from it are started by sp.
func Open(iso *isolate.Isolate, sp *thread.Spawner) error {
	if sp == nil {
		return errors.New("pthread: nil spawner")
	}
	L := iso.State()
	m := &module{iso: iso, sp: sp, tbl: L.NewTable()}
	L.SetFuncs(m.tbl, map[string]lua.LGFunction{
		"self":         m.self,
		"exit":         m.exit,
		"testcancel":   m.testcancel,
		"cleanup_push": m.cleanupPush,
		"cleanup_pop":  m.cleanupPop,
		"pointer":      m.pointer,
		"address":      m.address,
		"clock":        m.clock,
	})
	m.openThread(L)
	m.openMutex(L)
	m.openCond(L)
	m.openRWLock(L)
	m.openBarrier(L)
	m.openKey(L)
	m.openOnce(L)

	L.SetField(m.tbl, "CANCELED", bridge.NewPointer(L, canceled))
	L.SetField(m.tbl, "BARRIER_SERIAL_THREAD", lua.LNumber(BarrierSerialThread))
	for name, code := range errnos {
		L.SetField(m.tbl, name, lua.LNumber(code))
	}
	L.SetGlobal(ModuleName, m.tbl)
	return nil
}

func (m *module) owner() prim.Owner { return prim.Owner(m.iso.ID()) }

// fail reports err to the script. Operation errors become nil, message,
// errno; a cancellation observed by a cancelled thread unwinds it; anything
// else raises.
func (m *module) fail(L *lua.LState, err error) int {
	if errs.KindOf(err) != errs.KindOperation {
		L.RaiseError("%s", err.Error())
		return 0
	}
	code := errs.CodeOf(err)
	if code == unix.ECANCELED {
		thread.CheckCancel(L)
	}
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	L.Push(lua.LNumber(code))
	return 3
}

// ok pushes true, or the failure triple.
func (m *module) ok(L *lua.LState, err error) int {
	if err != nil {
		return m.fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (m *module) self(L *lua.LState) int {
	L.Push(lua.LNumber(m.iso.ID()))
	return 1
}

func (m *module) exit(L *lua.LState) int {
	thread.Exit(L, args(L, 1)...)
	return 0
}

func (m *module) testcancel(L *lua.LState) int {
	thread.CheckCancel(L)
	return 0
}

func (m *module) cleanupPush(L *lua.LState) int {
	fn := L.CheckFunction(1)
	m.iso.Cleanup().Push(fn, args(L, 2)...)
	return 0
}

// cleanup_pop(execute) returns nil when the stack was empty, true when the
// entry was popped (and ran successfully), or false and the message when it
// ran and failed.
func (m *module) cleanupPop(L *lua.LState) int {
	popped, err := m.iso.Cleanup().Pop(L, L.OptBool(1, false))
	switch {
	case !popped:
		L.Push(lua.LNil)
		return 1
	case err != nil:
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (m *module) pointer(L *lua.LState) int {
	n := L.CheckNumber(1)
	if n < 0 || float64(n) != float64(uint64(n)) {
		L.ArgError(1, "non-negative integer expected")
	}
	L.Push(bridge.NewPointer(L, bridge.Pointer(uint64(n))))
	return 1
}

func (m *module) address(L *lua.LState) int {
	L.Push(lua.LNumber(checkPointer(L, 1)))
	return 1
}

func (m *module) clock(L *lua.LState) int {
	c := attr.ClockRealtime
	if name := L.OptString(1, ""); name != "" {
		var err error
		if c, err = attr.ParseClock(name); err != nil {
			L.ArgError(1, err.Error())
		}
	}
	L.Push(lua.LNumber(c.Now()))
	return 1
}

func args(L *lua.LState, from int) []lua.LValue {
	var vs []lua.LValue
	for i := from; i <= L.GetTop(); i++ {
		vs = append(vs, L.Get(i))
	}
	return vs
}

func checkPointer(L *lua.LState, n int) bridge.Pointer {
	p, ok := bridge.ToPointer(L.Get(n))
	if !ok {
		L.ArgError(n, "light pointer expected, got "+L.Get(n).Type().String())
	}
	return p
}

func optTable(L *lua.LState, n int) *lua.LTable {
	if L.Get(n) == lua.LNil {
		return nil
	}
	return L.CheckTable(n)
}
