//go:build !linux

package thread

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/errs"
)

func configure(a *attr.Thread) (int, error) {
	if a != nil && (len(a.CPUs) > 0 || a.ExplicitSched()) {
		return 0, errs.Operationf("thread.create", unix.ENOTSUP, "affinity and explicit scheduling need linux")
	}
	ignored(a)
	return 0, nil
}

func tgkill(int, syscall.Signal) error {
	return errs.Operation("thread.kill", unix.ENOTSUP)
}
