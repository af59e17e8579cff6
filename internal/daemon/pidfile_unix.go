//go:build !windows

package daemon

import "syscall"

// Alive reports whether pid refers to a live process. Signal 0 probes
// existence without delivering anything.
func Alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
