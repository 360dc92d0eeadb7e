// Package cleanup implements the per-thread LIFO of deferred actions that run
// when a thread exits or is cancelled, or when explicitly popped.
//
// Push and Pop are not lexically paired: they may happen in different call
// frames. A Stack belongs to exactly one isolate and is only touched from the
// thread running that isolate, so it has no lock.
package cleanup

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Entry is one deferred action together with the arguments captured at push
// time.
type Entry struct {
	Action lua.LValue
	Args   []lua.LValue
}

// Stack is a LIFO of cleanup entries.
type Stack struct {
	entries []Entry
}

// New returns an empty stack.
func New() *Stack { return &Stack{} }

// Push records action without running it.
func (s *Stack) Push(action lua.LValue, args ...lua.LValue) {
	s.entries = append(s.entries, Entry{Action: action, Args: append([]lua.LValue(nil), args...)})
}

// Len returns the number of pending entries.
func (s *Stack) Len() int { return len(s.entries) }

// Pop removes the most recently pushed entry. When execute is true the entry
// runs in L under a protected call and its failure is returned. popped is
// false when the stack was empty.
func (s *Stack) Pop(L *lua.LState, execute bool) (popped bool, err error) {
	n := len(s.entries)
	if n == 0 {
		return false, nil
	}
	e := s.entries[n-1]
	s.entries[n-1] = Entry{}
	s.entries = s.entries[:n-1]
	if !execute {
		return true, nil
	}
	return true, run(L, e)
}

func run(L *lua.LState, e Entry) error {
	top := L.GetTop()
	defer L.SetTop(top)
	if err := L.CallByParam(lua.P{Fn: e.Action, NRet: 0, Protect: true}, e.Args...); err != nil {
		return fmt.Errorf("cleanup handler: %w", err)
	}
	return nil
}

// Unwind pops and executes every entry, most recent first. A failing entry
// does not stop the unwind; all failures are returned in execution order.
func (s *Stack) Unwind(L *lua.LState) []error {
	var failed []error
	for {
		popped, err := s.Pop(L, true)
		if !popped {
			return failed
		}
		if err != nil {
			failed = append(failed, err)
		}
	}
}
