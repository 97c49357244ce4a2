package scratchpad

import "syscall"

// syscallSignalZero returns the null signal used to probe whether a PID
// is still alive without actually delivering a signal.
func syscallSignalZero() syscall.Signal {
	return syscall.Signal(0)
}
