package cleanup

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func newState(t *testing.T) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	if err := L.DoString(`
		log = {}
		function record(tag) log[#log + 1] = tag end
		function boom() error("cleanup failed") end`); err != nil {
		t.Fatal(err)
	}
	return L
}

func logged(t *testing.T, L *lua.LState) []string {
	t.Helper()
	tbl := L.GetGlobal("log").(*lua.LTable)
	var out []string
	for i := 1; i <= tbl.Len(); i++ {
		out = append(out, tbl.RawGetInt(i).String())
	}
	return out
}

func TestUnwindRunsLIFOExactlyOnce(t *testing.T) {
	t.Parallel()
	L := newState(t)
	s := New()
	s.Push(L.GetGlobal("record"), lua.LString("first"))
	s.Push(L.GetGlobal("record"), lua.LString("second"))
	assert.Equal(t, s.Len(), 2)

	assert.Check(t, is.Len(s.Unwind(L), 0))
	assert.DeepEqual(t, logged(t, L), []string{"second", "first"})
	assert.Equal(t, s.Len(), 0)

	assert.Check(t, is.Len(s.Unwind(L), 0))
	assert.DeepEqual(t, logged(t, L), []string{"second", "first"})
}

func TestPopWithoutExecute(t *testing.T) {
	t.Parallel()
	L := newState(t)
	s := New()
	s.Push(L.GetGlobal("record"), lua.LString("kept"))
	s.Push(L.GetGlobal("record"), lua.LString("dropped"))

	popped, err := s.Pop(L, false)
	assert.NilError(t, err)
	assert.Check(t, popped)
	popped, err = s.Pop(L, true)
	assert.NilError(t, err)
	assert.Check(t, popped)
	assert.DeepEqual(t, logged(t, L), []string{"kept"})

	popped, err = s.Pop(L, true)
	assert.NilError(t, err)
	assert.Check(t, !popped)
}

func TestUnwindContinuesAfterFailure(t *testing.T) {
	t.Parallel()
	L := newState(t)
	s := New()
	s.Push(L.GetGlobal("record"), lua.LString("a"))
	s.Push(L.GetGlobal("boom"))
	s.Push(L.GetGlobal("record"), lua.LString("c"))
	top := L.GetTop()

	failed := s.Unwind(L)
	assert.Check(t, is.Len(failed, 1))
	assert.ErrorContains(t, failed[0], "cleanup failed")
	assert.DeepEqual(t, logged(t, L), []string{"c", "a"})
	assert.Equal(t, L.GetTop(), top)
}

func TestArgsCapturedAtPush(t *testing.T) {
	t.Parallel()
	L := newState(t)
	s := New()
	args := []lua.LValue{lua.LString("x")}
	s.Push(L.GetGlobal("record"), args...)
	args[0] = lua.LString("mutated")
	s.Unwind(L)
	assert.DeepEqual(t, logged(t, L), []string{"x"})
}
