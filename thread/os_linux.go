package thread

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/errs"
)

var policies = map[attr.Policy]uint32{
	attr.PolicyOther: unix.SCHED_NORMAL,
	attr.PolicyFIFO:  unix.SCHED_FIFO,
	attr.PolicyRR:    unix.SCHED_RR,
}

// configure runs on the new OS thread before the entry function and applies
// the attributes that act on the calling thread.
func configure(a *attr.Thread) (tid int, err error) {
	const op = "thread.create"
	tid = unix.Gettid()
	if set, ok := a.CPUSet(); ok {
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return 0, errs.Operationf(op, errnoOf(err), "cpu affinity: %v", err)
		}
	}
	if a.ExplicitSched() {
		sa := &unix.SchedAttr{}
		if a.SchedPolicy != nil {
			sa.Policy = policies[*a.SchedPolicy]
		}
		if a.SchedPriority != nil {
			sa.Priority = uint32(*a.SchedPriority)
		}
		if err := unix.SchedSetAttr(0, sa, 0); err != nil {
			return 0, errs.Operationf(op, errnoOf(err), "scheduling: %v", err)
		}
	}
	ignored(a)
	return tid, nil
}

func tgkill(tid int, sig syscall.Signal) error {
	if err := unix.Tgkill(unix.Getpid(), tid, sig); err != nil {
		return errs.Operation("thread.kill", errnoOf(err))
	}
	return nil
}

func errnoOf(err error) unix.Errno {
	var e unix.Errno
	if errors.As(err, &e) {
		return e
	}
	return unix.EINVAL
}
