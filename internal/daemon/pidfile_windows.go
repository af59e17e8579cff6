//go:build windows

package daemon

import (
	"os"
	"syscall"
)

// Alive reports whether pid refers to a live process. FindProcess
// always succeeds on Windows, so the zero signal does the actual
// probing.
func Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
