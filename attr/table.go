package attr

import (
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/NetPo4ki/isothread/errs"
)

type decoder struct {
	tbl   *lua.LTable
	err   error
	op    string
	known map[string]bool
}

func newDecoder(op string, tbl *lua.LTable) *decoder {
	return &decoder{op: op, tbl: tbl, known: make(map[string]bool)}
}

func (d *decoder) fail(key, detail string, args ...any) {
	if d.err == nil {
		d.err = errs.Argument(d.op, []string{key}, detail, args...)
	}
}

func (d *decoder) get(key string) (lua.LValue, bool) {
	d.known[key] = true
	v := d.tbl.RawGetString(key)
	return v, v != lua.LNil
}

func (d *decoder) integer(key string) *int {
	v, ok := d.get(key)
	if !ok {
		return nil
	}
	n, isNum := v.(lua.LNumber)
	if !isNum || float64(n) != float64(int64(n)) {
		d.fail(key, "integer expected, got %s", v.Type().String())
		return nil
	}
	i := int(n)
	return &i
}

func (d *decoder) boolean(key string) *bool {
	v, ok := d.get(key)
	if !ok {
		return nil
	}
	b, isBool := v.(lua.LBool)
	if !isBool {
		d.fail(key, "boolean expected, got %s", v.Type().String())
		return nil
	}
	x := bool(b)
	return &x
}

func (d *decoder) str(key string) (string, bool) {
	v, ok := d.get(key)
	if !ok {
		return "", false
	}
	s, isStr := v.(lua.LString)
	if !isStr {
		d.fail(key, "string expected, got %s", v.Type().String())
		return "", false
	}
	return string(s), true
}

func decodeEnum[T any](d *decoder, key string, names map[string]T) *T {
	s, ok := d.str(key)
	if !ok {
		return nil
	}
	v, err := parseEnum(d.op, key, s, names)
	if err != nil {
		if d.err == nil {
			d.err = err
		}
		return nil
	}
	return &v
}

// finish rejects keys nobody asked for.
func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	var unknown []string
	d.tbl.ForEach(func(k, _ lua.LValue) {
		ks, ok := k.(lua.LString)
		if !ok || !d.known[string(ks)] {
			unknown = append(unknown, k.String())
		}
	})
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errs.Argument(d.op, []string{unknown[0]}, "unknown attribute")
	}
	return nil
}

// ThreadFromTable decodes thread attributes. A nil table yields nil.
func ThreadFromTable(tbl *lua.LTable) (*Thread, error) {
	if tbl == nil {
		return nil, nil
	}
	d := newDecoder("thread.attr", tbl)
	t := &Thread{
		StackSize:    d.integer("stacksize"),
		GuardSize:    d.integer("guardsize"),
		Detach:       decodeEnum(d, "detachstate", detachNames),
		InheritSched: decodeEnum(d, "inheritsched", inheritNames),
		SchedPolicy:  decodeEnum(d, "schedpolicy", policyNames),
		Scope:        decodeEnum(d, "scope", scopeNames),
		Suspended:    d.boolean("suspended"),
	}
	if addr := d.integer("stackaddr"); addr != nil {
		a := uintptr(*addr)
		t.StackAddr = &a
	}
	if v, ok := d.get("schedparam"); ok {
		switch p := v.(type) {
		case lua.LNumber:
			t.SchedPriority = d.integer("schedparam")
		case *lua.LTable:
			sub := newDecoder("thread.attr.schedparam", p)
			t.SchedPriority = sub.integer("priority")
			if err := sub.finish(); err != nil && d.err == nil {
				d.err = err
			}
		default:
			d.fail("schedparam", "number or table expected, got %s", p.Type().String())
		}
	}
	if v, ok := d.get("cpuset"); ok {
		set, isTable := v.(*lua.LTable)
		if !isTable {
			d.fail("cpuset", "array of cpu numbers expected, got %s", v.Type().String())
		} else {
			for i := 1; i <= set.Len(); i++ {
				n, isNum := set.RawGetInt(i).(lua.LNumber)
				if !isNum {
					d.fail("cpuset", "entry %d is not a number", i)
					break
				}
				t.CPUs = append(t.CPUs, int(n))
			}
		}
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MutexFromTable decodes mutex attributes. A nil table yields nil.
func MutexFromTable(tbl *lua.LTable) (*Mutex, error) {
	if tbl == nil {
		return nil, nil
	}
	d := newDecoder("mutex.attr", tbl)
	m := &Mutex{
		PrioCeiling: d.integer("prioceiling"),
		Protocol:    decodeEnum(d, "protocol", protocolNames),
		Type:        decodeEnum(d, "type", mutexTypes),
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// CondFromTable decodes condition variable attributes. A nil table yields nil.
func CondFromTable(tbl *lua.LTable) (*Cond, error) {
	if tbl == nil {
		return nil, nil
	}
	d := newDecoder("cond.attr", tbl)
	c := &Cond{
		Clock:  decodeEnum(d, "clock", clockNames),
		Shared: d.boolean("pshared"),
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return c, nil
}

// RWLockFromTable decodes read/write lock attributes. A nil table yields nil.
func RWLockFromTable(tbl *lua.LTable) (*RWLock, error) {
	if tbl == nil {
		return nil, nil
	}
	d := newDecoder("rwlock.attr", tbl)
	r := &RWLock{Shared: d.boolean("pshared")}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return r, nil
}

// BarrierFromTable decodes barrier attributes. A nil table yields nil.
func BarrierFromTable(tbl *lua.LTable) (*Barrier, error) {
	if tbl == nil {
		return nil, nil
	}
	d := newDecoder("barrier.attr", tbl)
	b := &Barrier{Shared: d.boolean("pshared")}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return b, nil
}
