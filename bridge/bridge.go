package bridge

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/NetPo4ki/isothread/errs"
)

const pointerTypeName = "isothread.pointer"

type exporter struct {
	op   string
	seen map[*lua.LFunction]*Closure
}

// Export marshals v out of its source isolate. path names the position of v
// for error messages, e.g. "argument #2".
func Export(op string, v lua.LValue, path ...string) (Value, error) {
	e := &exporter{op: op}
	return e.export(v, path)
}

func (e *exporter) export(v lua.LValue, path []string) (Value, error) {
	if v == nil {
		return Nil, nil
	}
	switch v := v.(type) {
	case *lua.LNilType:
		return Nil, nil
	case lua.LBool:
		return Bool(bool(v)), nil
	case lua.LNumber:
		return Number(float64(v)), nil
	case lua.LString:
		return String(string(v)), nil
	case *lua.LUserData:
		if p, ok := v.Value.(Pointer); ok {
			return Ptr(p), nil
		}
		return Nil, errs.Argument(e.op, path, "userdata is not transferable, pass its cookie instead")
	case *lua.LFunction:
		return e.closure(v, path)
	}
	return Nil, errs.Argument(e.op, path, "%s is not transferable", v.Type().String())
}

func (e *exporter) closure(fn *lua.LFunction, path []string) (Value, error) {
	if fn.IsG || fn.Proto == nil {
		return Nil, errs.Argument(e.op, path, "builtin function is not transferable")
	}
	if c, ok := e.seen[fn]; ok {
		return Func(c), nil
	}
	if e.seen == nil {
		e.seen = make(map[*lua.LFunction]*Closure)
	}
	c := &Closure{Proto: fn.Proto, Upvalues: make([]Value, len(fn.Upvalues))}
	// Registered before recursing so a closure capturing itself terminates.
	e.seen[fn] = c
	for i, uv := range fn.Upvalues {
		var val lua.LValue = lua.LNil
		if uv != nil {
			val = uv.Value()
		}
		x, err := e.export(val, extend(path, upvalueLabel(fn.Proto, i)))
		if err != nil {
			return Nil, err
		}
		c.Upvalues[i] = x
	}
	return Func(c), nil
}

func upvalueLabel(p *lua.FunctionProto, i int) string {
	if i < len(p.DbgUpvalues) && p.DbgUpvalues[i] != "" {
		return fmt.Sprintf("upvalue %d (%s)", i+1, p.DbgUpvalues[i])
	}
	return fmt.Sprintf("upvalue %d", i+1)
}

func extend(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

type importer struct {
	L    *lua.LState
	seen map[*Closure]*lua.LFunction
}

// Import materializes v in the destination isolate. Closures are loaded fresh
// from their code image and bound to L's own globals; upvalues are rebound
// slot by slot.
func Import(L *lua.LState, v Value) lua.LValue {
	im := &importer{L: L}
	return im.value(v)
}

func (im *importer) value(v Value) lua.LValue {
	switch v.kind {
	case KindBool:
		return lua.LBool(v.b)
	case KindNumber:
		return lua.LNumber(v.n)
	case KindString:
		return lua.LString(v.s)
	case KindPointer:
		return NewPointer(im.L, v.p)
	case KindClosure:
		return im.closure(v.fn)
	}
	return lua.LNil
}

func (im *importer) closure(c *Closure) *lua.LFunction {
	if fn, ok := im.seen[c]; ok {
		return fn
	}
	if im.seen == nil {
		im.seen = make(map[*Closure]*lua.LFunction)
	}
	fn := im.L.NewFunctionFromProto(c.Proto)
	im.seen[c] = fn
	if len(fn.Upvalues) < len(c.Upvalues) {
		fn.Upvalues = make([]*lua.Upvalue, len(c.Upvalues))
	}
	for i, uv := range c.Upvalues {
		// A zero Upvalue is a closed cell: it holds its value directly.
		cell := &lua.Upvalue{}
		cell.SetValue(im.value(uv))
		fn.Upvalues[i] = cell
	}
	return fn
}

// Transfer exports v and imports it into dst.
func Transfer(op string, dst *lua.LState, v lua.LValue, path ...string) (lua.LValue, error) {
	x, err := Export(op, v, path...)
	if err != nil {
		return lua.LNil, err
	}
	return Import(dst, x), nil
}

// ExportList marshals a list, labelling element i as "<label> #<i+first>".
// It stops at the first rejected element.
func ExportList(op string, vs []lua.LValue, label string, first int) ([]Value, error) {
	out := make([]Value, len(vs))
	e := &exporter{op: op}
	for i, v := range vs {
		x, err := e.export(v, []string{fmt.Sprintf("%s #%d", label, i+first)})
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// ImportList materializes a list in L. Closures shared between elements stay
// shared.
func ImportList(L *lua.LState, vs []Value) []lua.LValue {
	im := &importer{L: L}
	out := make([]lua.LValue, len(vs))
	for i, v := range vs {
		out[i] = im.value(v)
	}
	return out
}

// TransferList moves a list from its source isolate into dst, all or nothing.
func TransferList(op string, dst *lua.LState, vs []lua.LValue, label string, first int) ([]lua.LValue, error) {
	xs, err := ExportList(op, vs, label, first)
	if err != nil {
		return nil, err
	}
	return ImportList(dst, xs), nil
}

// NewPointer creates a light-pointer value in L.
func NewPointer(L *lua.LState, p Pointer) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = p
	L.SetMetatable(ud, pointerMetatable(L))
	return ud
}

// ToPointer reports the token carried by v, if v is a light pointer.
func ToPointer(v lua.LValue) (Pointer, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return 0, false
	}
	p, ok := ud.Value.(Pointer)
	return p, ok
}

func pointerMetatable(L *lua.LState) *lua.LTable {
	if mt, ok := L.GetTypeMetatable(pointerTypeName).(*lua.LTable); ok {
		return mt
	}
	mt := L.NewTypeMetatable(pointerTypeName)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		p, _ := ToPointer(L.Get(1))
		L.Push(lua.LString(p.String()))
		return 1
	}))
	L.SetField(mt, "__eq", L.NewFunction(func(L *lua.LState) int {
		a, aok := ToPointer(L.Get(1))
		b, bok := ToPointer(L.Get(2))
		L.Push(lua.LBool(aok && bok && a == b))
		return 1
	}))
	return mt
}
