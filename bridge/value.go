// Package bridge moves values between isolates.
//
// Only a closed set of kinds may cross: nil, booleans, numbers, strings, light
// pointers and pure compiled closures whose captured upvalues are themselves
// transferable. Everything else is rejected with an argument error naming the
// offending position.
//
// A transfer runs in two halves. Export reads the source isolate and builds a
// self-contained Value; it may fail. Import materializes a Value in the
// destination isolate and cannot fail, so a rejected transfer never leaves
// anything behind in the destination.
//
// The caller guarantees both isolates are quiescent for the duration of a
// transfer (not yet started, or finished and being drained); the bridge does
// no locking of its own.
package bridge

import (
	"fmt"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// Kind is the tag of a marshaled value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindPointer
	KindClosure
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindPointer:
		return "pointer"
	case KindClosure:
		return "closure"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Pointer is an opaque address-sized token. The bridge copies it verbatim and
// never interprets it.
type Pointer uintptr

func (p Pointer) String() string { return fmt.Sprintf("pointer: %#x", uintptr(p)) }

// Closure is a compiled function detached from any isolate. Proto is the
// immutable code image; Upvalues holds the captured values slot by slot.
type Closure struct {
	Proto    *lua.FunctionProto
	Upvalues []Value
}

// Value is the marshaled form of a transferable value.
type Value struct {
	fn   *Closure
	s    string
	n    float64
	p    Pointer
	kind Kind
	b    bool
}

var Nil = Value{}

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Ptr(p Pointer) Value { return Value{kind: KindPointer, p: p} }

func Func(c *Closure) Value { return Value{kind: KindClosure, fn: c} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Bool() bool { return v.b }

func (v Value) Number() float64 { return v.n }

func (v Value) Str() string { return v.s }

func (v Value) Pointer() Pointer { return v.p }

func (v Value) Closure() *Closure { return v.fn }

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return lua.LNumber(v.n).String()
	case KindString:
		return strconv.Quote(v.s)
	case KindPointer:
		return v.p.String()
	case KindClosure:
		return fmt.Sprintf("closure(%d upvalues)", len(v.fn.Upvalues))
	}
	return v.kind.String()
}
