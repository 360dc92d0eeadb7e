package pthread

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/bridge"
	"github.com/NetPo4ki/isothread/prim"
	"github.com/NetPo4ki/isothread/thread"
)

func (m *module) openMutex(L *lua.LState) {
	self := func(L *lua.LState) *prim.Mutex { return checkRef[*prim.Mutex](L, 1, prim.KindMutex) }
	defineRef(m, L, prim.KindMutex, map[string]lua.LGFunction{
		"lock": func(L *lua.LState) int {
			return m.ok(L, self(L).Lock(m.iso.Context(), m.owner()))
		},
		"trylock": func(L *lua.LState) int {
			return m.ok(L, self(L).TryLock(m.owner()))
		},
		"timedlock": func(L *lua.LState) int {
			mu := self(L)
			deadline := attr.ClockRealtime.Deadline(float64(L.CheckNumber(2)))
			return m.ok(L, mu.TimedLock(m.iso.Context(), m.owner(), deadline))
		},
		"unlock": func(L *lua.LState) int {
			return m.ok(L, self(L).Unlock(m.owner()))
		},
		"owned": func(L *lua.LState) int {
			L.Push(lua.LBool(self(L).IsOwned(m.owner())))
			return 1
		},
		"spinloops": func(L *lua.LState) int {
			mu := self(L)
			if L.GetTop() < 2 {
				L.Push(lua.LNumber(mu.SpinLoops()))
				return 1
			}
			return m.ok(L, mu.SetSpinLoops(L.CheckInt(2)))
		},
		"yieldloops": func(L *lua.LState) int {
			mu := self(L)
			if L.GetTop() < 2 {
				L.Push(lua.LNumber(mu.YieldLoops()))
				return 1
			}
			return m.ok(L, mu.SetYieldLoops(L.CheckInt(2)))
		},
		"prioceiling": func(L *lua.LState) int {
			L.Push(lua.LNumber(self(L).PrioCeiling()))
			return 1
		},
		"setprioceiling": func(L *lua.LState) int {
			mu := self(L)
			old, err := mu.SetPrioCeiling(m.iso.Context(), m.owner(), L.CheckInt(2))
			if err != nil {
				return m.fail(L, err)
			}
			L.Push(lua.LNumber(old))
			return 1
		},
	}, prim.RetainMutex)

	L.SetField(m.tbl, "mutex", L.NewFunction(func(L *lua.LState) int {
		a, err := attr.MutexFromTable(optTable(L, 1))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		ref, err := prim.NewMutex(a)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return m.push(L, prim.KindMutex, ref)
	}))
}

func (m *module) openCond(L *lua.LState) {
	self := func(L *lua.LState) *prim.Cond { return checkRef[*prim.Cond](L, 1, prim.KindCond) }
	mutex := func(L *lua.LState) *prim.Mutex { return checkRef[*prim.Mutex](L, 2, prim.KindMutex) }
	defineRef(m, L, prim.KindCond, map[string]lua.LGFunction{
		"wait": func(L *lua.LState) int {
			c, mu := self(L), mutex(L)
			return m.ok(L, c.Wait(m.iso.Context(), mu, m.owner()))
		},
		// timedwait(mutex, deadline) measures deadline on the cond's clock.
		"timedwait": func(L *lua.LState) int {
			c, mu := self(L), mutex(L)
			deadline := c.Clock().Deadline(float64(L.CheckNumber(3)))
			return m.ok(L, c.TimedWait(m.iso.Context(), mu, m.owner(), deadline))
		},
		"signal": func(L *lua.LState) int {
			self(L).Signal()
			L.Push(lua.LTrue)
			return 1
		},
		"broadcast": func(L *lua.LState) int {
			self(L).Broadcast()
			L.Push(lua.LTrue)
			return 1
		},
	}, prim.RetainCond)

	L.SetField(m.tbl, "cond", L.NewFunction(func(L *lua.LState) int {
		a, err := attr.CondFromTable(optTable(L, 1))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return m.push(L, prim.KindCond, prim.NewCond(a))
	}))
}

func (m *module) openRWLock(L *lua.LState) {
	self := func(L *lua.LState) *prim.RWLock { return checkRef[*prim.RWLock](L, 1, prim.KindRWLock) }
	defineRef(m, L, prim.KindRWLock, map[string]lua.LGFunction{
		"rdlock": func(L *lua.LState) int {
			return m.ok(L, self(L).RdLock(m.iso.Context(), m.owner()))
		},
		"wrlock": func(L *lua.LState) int {
			return m.ok(L, self(L).WrLock(m.iso.Context(), m.owner()))
		},
		"tryrdlock": func(L *lua.LState) int {
			return m.ok(L, self(L).TryRdLock(m.owner()))
		},
		"trywrlock": func(L *lua.LState) int {
			return m.ok(L, self(L).TryWrLock(m.owner()))
		},
		"timedrdlock": func(L *lua.LState) int {
			rw := self(L)
			d := attr.ClockRealtime.Deadline(float64(L.CheckNumber(2)))
			return m.ok(L, rw.TimedRdLock(m.iso.Context(), m.owner(), d))
		},
		"timedwrlock": func(L *lua.LState) int {
			rw := self(L)
			d := attr.ClockRealtime.Deadline(float64(L.CheckNumber(2)))
			return m.ok(L, rw.TimedWrLock(m.iso.Context(), m.owner(), d))
		},
		"unlock": func(L *lua.LState) int {
			return m.ok(L, self(L).Unlock(m.owner()))
		},
	}, prim.RetainRWLock)

	L.SetField(m.tbl, "rwlock", L.NewFunction(func(L *lua.LState) int {
		a, err := attr.RWLockFromTable(optTable(L, 1))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return m.push(L, prim.KindRWLock, prim.NewRWLock(a))
	}))
}

func (m *module) openBarrier(L *lua.LState) {
	defineRef(m, L, prim.KindBarrier, map[string]lua.LGFunction{
		// wait returns BARRIER_SERIAL_THREAD to one waiter per generation and
		// 0 to the others.
		"wait": func(L *lua.LState) int {
			b := checkRef[*prim.Barrier](L, 1, prim.KindBarrier)
			serial, err := b.Wait(m.iso.Context())
			if err != nil {
				return m.fail(L, err)
			}
			if serial {
				L.Push(lua.LNumber(BarrierSerialThread))
			} else {
				L.Push(lua.LNumber(0))
			}
			return 1
		},
		"count": func(L *lua.LState) int {
			L.Push(lua.LNumber(checkRef[*prim.Barrier](L, 1, prim.KindBarrier).Count()))
			return 1
		},
	}, prim.RetainBarrier)

	L.SetField(m.tbl, "barrier", L.NewFunction(func(L *lua.LState) int {
		count := L.CheckInt(1)
		a, err := attr.BarrierFromTable(optTable(L, 2))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		ref, err := prim.NewBarrier(count, a)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return m.push(L, prim.KindBarrier, ref)
	}))
}

type keyHooks struct{}

func (m *module) openKey(L *lua.LState) {
	self := func(L *lua.LState) *prim.Key { return checkRef[*prim.Key](L, 1, prim.KindKey) }
	defineRef(m, L, prim.KindKey, map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			p := self(L).Get(m.owner())
			if p == 0 {
				L.Push(lua.LNil)
			} else {
				L.Push(bridge.NewPointer(L, bridge.Pointer(p)))
			}
			return 1
		},
		// set(p) stores a light pointer for the calling thread; nil clears it.
		"set": func(L *lua.LState) int {
			k := self(L)
			var p bridge.Pointer
			if L.Get(2) != lua.LNil {
				p = checkPointer(L, 2)
			}
			if err := k.Set(m.owner(), uintptr(p)); err != nil {
				return m.fail(L, err)
			}
			m.forgetOnExit(k)
			L.Push(lua.LTrue)
			return 1
		},
	}, prim.RetainKey)

	L.SetField(m.tbl, "key", L.NewFunction(func(L *lua.LState) int {
		return m.push(L, prim.KindKey, prim.NewKey())
	}))
}

// forgetOnExit drops the calling thread's value of k when its isolate is
// destroyed.
func (m *module) forgetOnExit(k *prim.Key) {
	hooked, _ := m.iso.Local(keyHooks{}).(map[*prim.Key]bool)
	if hooked == nil {
		hooked = make(map[*prim.Key]bool)
		m.iso.SetLocal(keyHooks{}, hooked)
	}
	if hooked[k] {
		return
	}
	hooked[k] = true
	self := m.owner()
	m.iso.OnExit(func() { k.Forget(self) })
}

// errOnceFailed carries the message of a failed once action to every caller.
type errOnceFailed struct{ msg string }

func (e *errOnceFailed) Error() string { return e.msg }

func (m *module) openOnce(L *lua.LState) {
	defineRef(m, L, prim.KindOnce, map[string]lua.LGFunction{
		// call(fn, ...) runs fn(...) in the calling thread unless the flag
		// already completed. Returns true, or false and the failure message
		// of the call that ran.
		"call": func(L *lua.LState) int {
			o := checkRef[*prim.Once](L, 1, prim.KindOnce)
			fn := L.CheckFunction(2)
			rest := args(L, 3)
			err := o.Call(m.iso.Context(), func(ctx context.Context) error {
				top := L.GetTop()
				defer L.SetTop(top)
				if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, rest...); err != nil {
					return &errOnceFailed{msg: err.Error()}
				}
				return nil
			})
			var failed *errOnceFailed
			switch {
			case err == nil:
				L.Push(lua.LTrue)
				return 1
			case errors.As(err, &failed):
				thread.CheckCancel(L)
				L.Push(lua.LFalse)
				L.Push(lua.LString(failed.msg))
				return 2
			}
			return m.fail(L, err)
		},
		"done": func(L *lua.LState) int {
			L.Push(lua.LBool(checkRef[*prim.Once](L, 1, prim.KindOnce).Done()))
			return 1
		},
	}, prim.RetainOnce)

	L.SetField(m.tbl, "once", L.NewFunction(func(L *lua.LState) int {
		return m.push(L, prim.KindOnce, prim.NewOnce())
	}))
}
