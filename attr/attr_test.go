package attr

import (
	"errors"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/NetPo4ki/isothread/errs"
)

func table(t *testing.T, L *lua.LState, src string) *lua.LTable {
	t.Helper()
	if err := L.DoString("return " + src); err != nil {
		t.Fatalf("eval: %v", err)
	}
	tbl, ok := L.Get(-1).(*lua.LTable)
	L.Pop(1)
	if !ok {
		t.Fatalf("%s is not a table", src)
	}
	return tbl
}

func TestThreadFromTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	th, err := ThreadFromTable(table(t, L, `{
		stacksize = 65536, detachstate = "detached", inheritsched = "explicit",
		schedpolicy = "fifo", schedparam = { priority = 10 }, suspended = true,
		cpuset = { 0, 1 } }`))
	assert.NilError(t, err)
	assert.Equal(t, *th.StackSize, 65536)
	assert.Check(t, th.IsDetached())
	assert.Check(t, th.IsSuspended())
	assert.Check(t, th.ExplicitSched())
	assert.Equal(t, *th.SchedPolicy, PolicyFIFO)
	assert.Equal(t, *th.SchedPriority, 10)
	assert.DeepEqual(t, th.CPUs, []int{0, 1})
	assert.Check(t, th.GuardSize == nil, "unset fields defer to defaults")
}

func TestThreadFromTableNil(t *testing.T) {
	th, err := ThreadFromTable(nil)
	assert.NilError(t, err)
	assert.Check(t, th == nil)
	assert.Check(t, !th.IsDetached())
	assert.Check(t, !th.ExplicitSched())
}

func TestThreadAttributeErrors(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	cases := []struct {
		src  string
		want string
	}{
		{`{ stacksize = 12 }`, "stacksize"},
		{`{ stacksize = "big" }`, "integer expected"},
		{`{ detachstate = "sometimes" }`, "detached, joinable"},
		{`{ scope = "process" }`, "process contention scope"},
		{`{ schedparam = { priority = 500 } }`, "schedparam"},
		{`{ schedparam = { prio = 1 } }`, "prio"},
		{`{ cpuset = { 0, "x" } }`, "entry 2"},
		{`{ cpuset = { 4096 } }`, "out of range"},
		{`{ colour = "blue" }`, "colour"},
	}
	for _, tc := range cases {
		_, err := ThreadFromTable(table(t, L, tc.src))
		assert.Check(t, errors.Is(err, errs.ErrArgument), "%s: %v", tc.src, err)
		assert.Check(t, is.ErrorContains(err, tc.want), tc.src)
	}
}

func TestMutexFromTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	m, err := MutexFromTable(table(t, L, `{ type = "recursive", protocol = "protect", prioceiling = 5 }`))
	assert.NilError(t, err)
	assert.Equal(t, m.MutexType(), MutexRecursive)
	assert.Equal(t, *m.Protocol, ProtocolProtect)
	assert.Equal(t, m.Ceiling(), 5)

	var none *Mutex
	assert.Equal(t, none.MutexType(), DefaultMutexType)

	_, err = MutexFromTable(table(t, L, `{ prioceiling = -1 }`))
	assert.Check(t, errors.Is(err, errs.ErrArgument))
}

func TestCondFromTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	c, err := CondFromTable(table(t, L, `{ clock = "monotonic", pshared = false }`))
	assert.NilError(t, err)
	assert.Equal(t, c.ClockOrDefault(), ClockMonotonic)
	assert.Equal(t, *c.Shared, false)

	_, err = CondFromTable(table(t, L, `{ pshared = 1 }`))
	assert.Check(t, is.ErrorContains(err, "boolean expected"))

	rw, err := RWLockFromTable(table(t, L, `{ pshared = true }`))
	assert.NilError(t, err)
	assert.Equal(t, *rw.Shared, true)

	b, err := BarrierFromTable(table(t, L, `{}`))
	assert.NilError(t, err)
	assert.Check(t, b.Shared == nil)
}

func TestClockDeadline(t *testing.T) {
	for _, c := range []Clock{ClockRealtime, ClockMonotonic} {
		now := c.Now()
		d := c.Deadline(now + 0.5)
		left := time.Until(d)
		assert.Check(t, left > 400*time.Millisecond && left <= 501*time.Millisecond, "%s: %v", c, left)
	}
	c, err := ParseClock("MONOTONIC")
	assert.NilError(t, err)
	assert.Equal(t, c, ClockMonotonic)
	_, err = ParseClock("sundial")
	assert.Check(t, errors.Is(err, errs.ErrArgument))
}
