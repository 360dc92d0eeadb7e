package attr

import "golang.org/x/sys/unix"

// CPUSet builds the affinity mask. ok is false when no CPUs were requested.
func (t *Thread) CPUSet() (set unix.CPUSet, ok bool) {
	if t == nil || len(t.CPUs) == 0 {
		return set, false
	}
	set.Zero()
	for _, cpu := range t.CPUs {
		set.Set(cpu)
	}
	return set, true
}
