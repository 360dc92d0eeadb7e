// Package attr translates optional attribute sets into the settings applied
// when a thread or synchronization primitive is created.
//
// Every field is a pointer; nil means "use the native default". Sets can be
// built in Go or decoded from a script table with the *FromTable functions.
package attr

import (
	"sort"
	"strconv"
	"strings"

	"github.com/NetPo4ki/isothread/errs"
)

// DetachState selects whether a thread starts joinable.
type DetachState int

const (
	Joinable DetachState = iota
	Detached
)

// InheritSched selects where a thread's scheduling comes from.
type InheritSched int

const (
	Inherit InheritSched = iota
	Explicit
)

// Policy is a scheduling policy.
type Policy int

const (
	PolicyOther Policy = iota
	PolicyFIFO
	PolicyRR
)

// Scope is the contention scope.
type Scope int

const (
	ScopeSystem Scope = iota
	ScopeProcess
)

// MutexType selects relock and unlock checking.
type MutexType int

const (
	MutexErrorCheck MutexType = iota
	MutexNormal
	MutexRecursive
	MutexAdaptive
)

// DefaultMutexType is what a mutex without a type attribute gets.
const DefaultMutexType = MutexErrorCheck

// Protocol is the mutex priority protocol.
type Protocol int

const (
	ProtocolNone Protocol = iota
	ProtocolInherit
	ProtocolProtect
)

// MaxPriority bounds scheduling priorities and priority ceilings.
const MaxPriority = 99

var (
	detachNames   = map[string]DetachState{"joinable": Joinable, "detached": Detached}
	inheritNames  = map[string]InheritSched{"inherit": Inherit, "explicit": Explicit}
	policyNames   = map[string]Policy{"other": PolicyOther, "fifo": PolicyFIFO, "rr": PolicyRR}
	scopeNames    = map[string]Scope{"system": ScopeSystem, "process": ScopeProcess}
	mutexTypes    = map[string]MutexType{"errorcheck": MutexErrorCheck, "normal": MutexNormal, "recursive": MutexRecursive, "adaptive": MutexAdaptive, "default": DefaultMutexType}
	protocolNames = map[string]Protocol{"none": ProtocolNone, "inherit": ProtocolInherit, "protect": ProtocolProtect}
	clockNames    = map[string]Clock{"realtime": ClockRealtime, "monotonic": ClockMonotonic}
)

func parseEnum[T any](op, field, s string, names map[string]T) (T, error) {
	if v, ok := names[strings.ToLower(s)]; ok {
		return v, nil
	}
	var zero T
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return zero, errs.Argument(op, []string{field}, "unknown value %q (want one of %s)", s, strings.Join(keys, ", "))
}

// ParsePolicy parses a scheduling policy name: other, fifo or rr.
func ParsePolicy(s string) (Policy, error) {
	return parseEnum("thread.attr", "schedpolicy", s, policyNames)
}

// ParseInheritSched parses inherit or explicit.
func ParseInheritSched(s string) (InheritSched, error) {
	return parseEnum("thread.attr", "inheritsched", s, inheritNames)
}

// Thread holds thread creation attributes.
type Thread struct {
	StackAddr     *uintptr
	StackSize     *int
	GuardSize     *int
	Detach        *DetachState
	InheritSched  *InheritSched
	SchedPolicy   *Policy
	SchedPriority *int
	Scope         *Scope
	Suspended     *bool
	CPUs          []int
}

// Mutex holds mutex attributes.
type Mutex struct {
	PrioCeiling *int
	Protocol    *Protocol
	Type        *MutexType
}

// Cond holds condition variable attributes.
type Cond struct {
	Clock  *Clock
	Shared *bool
}

// RWLock holds read/write lock attributes.
type RWLock struct {
	Shared *bool
}

// Barrier holds barrier attributes.
type Barrier struct {
	Shared *bool
}

// MaxCPUs bounds CPU numbers in an affinity set.
const MaxCPUs = 1024

// MinStackSize is the smallest accepted stack size, in bytes.
const MinStackSize = 16 << 10

// Validate checks field ranges and combinations.
func (t *Thread) Validate() error {
	const op = "thread.attr"
	if t == nil {
		return nil
	}
	if t.StackSize != nil && *t.StackSize < MinStackSize {
		return errs.Argument(op, []string{"stacksize"}, "must be at least %d bytes", MinStackSize)
	}
	if t.GuardSize != nil && *t.GuardSize < 0 {
		return errs.Argument(op, []string{"guardsize"}, "must not be negative")
	}
	if t.Scope != nil && *t.Scope == ScopeProcess {
		return errs.Argument(op, []string{"scope"}, "process contention scope is not supported")
	}
	if t.SchedPriority != nil && (*t.SchedPriority < 0 || *t.SchedPriority > MaxPriority) {
		return errs.Argument(op, []string{"schedparam"}, "priority must be in [0, %d]", MaxPriority)
	}
	if t.SchedPolicy != nil && *t.SchedPolicy == PolicyOther && t.SchedPriority != nil && *t.SchedPriority != 0 {
		return errs.Argument(op, []string{"schedparam"}, "priority must be 0 for the other policy")
	}
	for i, cpu := range t.CPUs {
		if cpu < 0 || cpu >= MaxCPUs {
			return errs.Argument(op, []string{"cpuset", strconv.Itoa(i + 1)}, "cpu %d out of range", cpu)
		}
	}
	return nil
}

// IsDetached reports whether the thread starts detached.
func (t *Thread) IsDetached() bool {
	return t != nil && t.Detach != nil && *t.Detach == Detached
}

// IsSuspended reports whether the thread starts suspended.
func (t *Thread) IsSuspended() bool {
	return t != nil && t.Suspended != nil && *t.Suspended
}

// ExplicitSched reports whether scheduling settings should be applied rather
// than inherited from the creator.
func (t *Thread) ExplicitSched() bool {
	return t != nil && t.InheritSched != nil && *t.InheritSched == Explicit &&
		(t.SchedPolicy != nil || t.SchedPriority != nil)
}

// Validate checks field ranges.
func (m *Mutex) Validate() error {
	if m == nil {
		return nil
	}
	if m.PrioCeiling != nil && (*m.PrioCeiling < 0 || *m.PrioCeiling > MaxPriority) {
		return errs.Argument("mutex.attr", []string{"prioceiling"}, "must be in [0, %d]", MaxPriority)
	}
	return nil
}

// MutexType returns the configured type or the default.
func (m *Mutex) MutexType() MutexType {
	if m == nil || m.Type == nil {
		return DefaultMutexType
	}
	return *m.Type
}

// Ceiling returns the configured priority ceiling or 0.
func (m *Mutex) Ceiling() int {
	if m == nil || m.PrioCeiling == nil {
		return 0
	}
	return *m.PrioCeiling
}

// ClockOrDefault returns the configured clock, realtime by default.
func (c *Cond) ClockOrDefault() Clock {
	if c == nil || c.Clock == nil {
		return ClockRealtime
	}
	return *c.Clock
}

// Ptr returns a pointer to v, for building attribute sets in Go.
func Ptr[T any](v T) *T { return &v }
