package pthread

import (
	"fmt"
	"io"

	lua "github.com/yuin/gopher-lua"

	"github.com/NetPo4ki/isothread/bridge"
	"github.com/NetPo4ki/isothread/refcount"
)

// owned is a per-isolate wrapper around a shared handle.
type owned interface {
	io.Closer
	Cookie() uintptr
	Released() bool
}

func typeName(kind refcount.Kind) string { return ModuleName + "." + string(kind) }

// push wraps w in a userdata of kind. The isolate owns w until the script
// releases it, so closing the isolate drops every reference it still holds.
func (m *module) push(L *lua.LState, kind refcount.Kind, w owned) int {
	ud := L.NewUserData()
	ud.Value = w
	L.SetMetatable(ud, L.GetTypeMetatable(typeName(kind)))
	m.iso.Own(w)
	L.Push(ud)
	return 1
}

func (m *module) release(w owned) {
	m.iso.Disown(w)
	_ = w.Close()
}

func check[W owned](L *lua.LState, n int, kind refcount.Kind) W {
	ud := L.CheckUserData(n)
	w, ok := ud.Value.(W)
	if !ok {
		L.ArgError(n, string(kind)+" expected")
		return w
	}
	if w.Released() {
		L.ArgError(n, string(kind)+" already released")
	}
	return w
}

// define registers the metatable of kind with methods plus the members
// every wrapper has: cookie, retain and release. It also adds
// pthread.<kind>_retain.
func define[W owned](m *module, L *lua.LState, kind refcount.Kind, methods map[string]lua.LGFunction,
	retain func(W) (W, error), byCookie func(uintptr) (W, error), same func(W, W) bool) {
	methods["cookie"] = func(L *lua.LState) int {
		w := check[W](L, 1, kind)
		L.Push(bridge.NewPointer(L, bridge.Pointer(w.Cookie())))
		return 1
	}
	methods["retain"] = func(L *lua.LState) int {
		w, err := retain(check[W](L, 1, kind))
		if err != nil {
			return m.fail(L, err)
		}
		return m.push(L, kind, w)
	}
	methods["release"] = func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		if w, ok := ud.Value.(W); ok {
			m.release(w)
		}
		return 0
	}

	mt := L.NewTypeMetatable(typeName(kind))
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), methods))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		w, _ := L.CheckUserData(1).Value.(W)
		L.Push(lua.LString(fmt.Sprintf("%s: %#x", kind, w.Cookie())))
		return 1
	}))
	L.SetField(mt, "__eq", L.NewFunction(func(L *lua.LState) int {
		a, aok := L.CheckUserData(1).Value.(W)
		b, bok := L.CheckUserData(2).Value.(W)
		L.Push(lua.LBool(aok && bok && same(a, b)))
		return 1
	}))

	L.SetField(m.tbl, string(kind)+"_retain", L.NewFunction(func(L *lua.LState) int {
		w, err := byCookie(uintptr(checkPointer(L, 1)))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return m.push(L, kind, w)
	}))
}

// defineRef is define for the refcount-wrapped primitives.
func defineRef[T any](m *module, L *lua.LState, kind refcount.Kind, methods map[string]lua.LGFunction,
	byCookie func(uintptr) (*refcount.Ref[T], error)) {
	define(m, L, kind, methods,
		(*refcount.Ref[T]).Retain,
		byCookie,
		(*refcount.Ref[T]).Same)
}

func checkRef[T any](L *lua.LState, n int, kind refcount.Kind) T {
	return check[*refcount.Ref[T]](L, n, kind).Get()
}
