package pthread

import (
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/bridge"
	"github.com/NetPo4ki/isothread/thread"
)

func (m *module) openThread(L *lua.LState) {
	define(m, L, thread.KindThread, map[string]lua.LGFunction{
		"join":      m.threadJoin,
		"tryjoin":   m.threadTryJoin,
		"timedjoin": m.threadTimedJoin,
		"detach":    m.threadDetach,
		"cancel":    m.threadCancel,
		"kill":      m.threadKill,
		"resume":    m.threadResume,
		"id":        m.threadID,
	}, (*thread.Handle).Retain, thread.RetainCookie, (*thread.Handle).Equal)
	L.SetField(m.tbl, "create", L.NewFunction(m.create))
}

func checkThread(L *lua.LState) *thread.Handle {
	return check[*thread.Handle](L, 1, thread.KindThread)
}

// create([attr,] fn, ...) starts fn(...) on a new thread. Argument positions
// in transfer errors count fn's own arguments.
func (m *module) create(L *lua.LState) int {
	first := 1
	var a *attr.Thread
	if tbl, ok := L.Get(1).(*lua.LTable); ok {
		var err error
		if a, err = attr.ThreadFromTable(tbl); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		first = 2
	}
	entry := L.CheckFunction(first)
	h, err := m.sp.Spawn(m.iso.Context(), a, entry, args(L, first+1)...)
	if err != nil {
		return m.fail(L, err)
	}
	return m.push(L, thread.KindThread, h)
}

// joined pushes true and the results, or false and pthread.CANCELED.
func (m *module) joined(L *lua.LState, res thread.Result, err error) int {
	if err != nil {
		return m.fail(L, err)
	}
	if res.Cancelled {
		L.Push(lua.LFalse)
		L.Push(bridge.NewPointer(L, canceled))
		return 2
	}
	L.Push(lua.LTrue)
	for _, v := range res.Values {
		L.Push(v)
	}
	return 1 + len(res.Values)
}

func (m *module) threadJoin(L *lua.LState) int {
	res, err := checkThread(L).Join(m.iso.Context(), L)
	return m.joined(L, res, err)
}

func (m *module) threadTryJoin(L *lua.LState) int {
	res, err := checkThread(L).PeekJoin(L)
	return m.joined(L, res, err)
}

func (m *module) threadTimedJoin(L *lua.LState) int {
	h := checkThread(L)
	deadline := attr.ClockRealtime.Deadline(float64(L.CheckNumber(2)))
	res, err := h.TimedJoin(m.iso.Context(), L, deadline)
	return m.joined(L, res, err)
}

func (m *module) threadDetach(L *lua.LState) int {
	return m.ok(L, checkThread(L).Detach())
}

func (m *module) threadCancel(L *lua.LState) int {
	return m.ok(L, checkThread(L).Cancel())
}

// kill(sig) takes a signal number or a name such as "SIGUSR1" or "USR1".
func (m *module) threadKill(L *lua.LState) int {
	h := checkThread(L)
	var sig string
	switch v := L.Get(2).(type) {
	case lua.LNumber:
		sig = strconv.Itoa(int(v))
	case lua.LString:
		sig = string(v)
	default:
		L.ArgError(2, "signal name or number expected")
	}
	return m.ok(L, h.Kill(sig))
}

func (m *module) threadResume(L *lua.LState) int {
	return m.ok(L, checkThread(L).Resume())
}

func (m *module) threadID(L *lua.LState) int {
	L.Push(lua.LNumber(checkThread(L).ID()))
	return 1
}
