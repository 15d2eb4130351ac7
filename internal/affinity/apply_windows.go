//go:build windows

package affinity

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	kernel32                   = windows.NewLazySystemDLL("kernel32.dll")
	procSetProcessAffinityMask = kernel32.NewProc("SetProcessAffinityMask")
)

func (a *SystemApplier) Apply(pid int32, mask Mask) error {
	words := mask.Words()
	if len(words) != 1 {
		// A process affinity mask is a single DWORD_PTR; CPUs past 63 would
		// need processor-group calls.
		return fmt.Errorf("%w: mask %s exceeds 64 logical CPUs", ErrInvalidMask, mask)
	}

	handle, err := windows.OpenProcess(
		windows.PROCESS_SET_INFORMATION|windows.PROCESS_QUERY_LIMITED_INFORMATION,
		false, uint32(pid))
	if err != nil {
		return wrapOpenError(pid, err)
	}
	defer windows.CloseHandle(handle)

	ret, _, callErr := procSetProcessAffinityMask.Call(uintptr(handle), uintptr(words[0]))
	if ret == 0 {
		return wrapSetError(pid, callErr)
	}
	return nil
}

func (a *SystemApplier) Current(pid int32) (Mask, error) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return Mask{}, wrapOpenError(pid, err)
	}
	defer windows.CloseHandle(handle)

	var processMask, systemMask uintptr
	if err := windows.GetProcessAffinityMask(handle, &processMask, &systemMask); err != nil {
		return Mask{}, wrapOpenError(pid, err)
	}
	return MaskFromWords([]uint64{uint64(processMask)})
}

func wrapOpenError(pid int32, err error) error {
	switch err {
	case windows.ERROR_ACCESS_DENIED:
		return fmt.Errorf("%w: pid %d", ErrPermissionDenied, pid)
	case windows.ERROR_INVALID_PARAMETER:
		// OpenProcess reports a dead or recycled pid this way.
		return fmt.Errorf("%w: pid %d", ErrProcessNotFound, pid)
	}
	return err
}

func wrapSetError(pid int32, err error) error {
	switch err {
	case windows.ERROR_ACCESS_DENIED:
		return fmt.Errorf("%w: pid %d", ErrPermissionDenied, pid)
	case windows.ERROR_INVALID_PARAMETER:
		return fmt.Errorf("%w: pid %d", ErrInvalidMask, pid)
	}
	return err
}
