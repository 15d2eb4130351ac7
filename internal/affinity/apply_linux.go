//go:build linux

package affinity

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const wordByteSize = 8

// Apply issues sched_setaffinity(2) directly instead of going through
// unix.SchedSetaffinity, which is tied to the fixed-size unix.CPUSet and
// would truncate masks on machines with very wide CPU sets.
func (a *SystemApplier) Apply(pid int32, mask Mask) error {
	words := mask.Words()
	if len(words) == 0 {
		return fmt.Errorf("%w: pid %d", ErrInvalidMask, pid)
	}
	_, _, e := unix.RawSyscall(unix.SYS_SCHED_SETAFFINITY,
		uintptr(pid), uintptr(len(words)*wordByteSize), uintptr(unsafe.Pointer(&words[0])))
	if e != 0 {
		return wrapErrno(pid, e)
	}
	return nil
}

// Current reads the affinity mask of pid via sched_getaffinity(2). The
// kernel rejects buffers smaller than its own cpumask with EINVAL, so the
// word buffer is grown until the call succeeds.
func (a *SystemApplier) Current(pid int32) (Mask, error) {
	words := make([]uint64, 2)
	for {
		_, _, e := unix.RawSyscall(unix.SYS_SCHED_GETAFFINITY,
			uintptr(pid), uintptr(len(words)*wordByteSize), uintptr(unsafe.Pointer(&words[0])))
		if e != 0 {
			if e == unix.EINVAL {
				words = make([]uint64, len(words)*2)
				continue
			}
			return Mask{}, wrapErrno(pid, e)
		}
		return MaskFromWords(words)
	}
}

func wrapErrno(pid int32, e unix.Errno) error {
	switch e {
	case unix.ESRCH:
		return fmt.Errorf("%w: pid %d", ErrProcessNotFound, pid)
	case unix.EPERM, unix.EACCES:
		return fmt.Errorf("%w: pid %d", ErrPermissionDenied, pid)
	case unix.EINVAL:
		return fmt.Errorf("%w: pid %d", ErrInvalidMask, pid)
	}
	return e
}
