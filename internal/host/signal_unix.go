//go:build !windows

package host

import (
	"errors"
	"os"
	"syscall"
)

// ShutdownSignals end a running host.
var ShutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// SignalStop asks the host with the given pid to shut down.
func SignalStop(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
