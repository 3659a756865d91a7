//go:build linux

package ptrace

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// siginfo is the head of the kernel siginfo_t for fault signals.
type siginfo struct {
	Signo int32
	Errno int32
	Code  int32
	_     int32
	Addr  uint64
	_     [104]byte
}

func ptrace(request int, tid int, addr, data uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(tid), addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// seize attaches to tid without stopping it.
func seize(tid int) error {
	return ptrace(unix.PTRACE_SEIZE, tid, 0, uintptr(unix.PTRACE_O_TRACECLONE))
}

func getSiginfo(tid int) (siginfo, error) {
	var si siginfo
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(tid), 0,
		uintptr(unsafe.Pointer(&si)), 0, 0)
	if errno != 0 {
		return si, errno
	}
	return si, nil
}

// listen leaves a thread in group-stop while still reporting events.
func listen(tid int) error {
	return ptrace(unix.PTRACE_LISTEN, tid, 0, 0)
}

func detach(tid int, sig syscall.Signal) error {
	return ptrace(unix.PTRACE_DETACH, tid, 0, uintptr(sig))
}

// event returns the PTRACE_EVENT_* of a stop, 0 for signal-delivery-stops.
func event(ws unix.WaitStatus) int {
	return int(uint32(ws) >> 16)
}
