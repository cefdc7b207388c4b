//go:build windows

package host

import "os"

// ShutdownSignals end a running host.
var ShutdownSignals = []os.Signal{os.Interrupt}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

// SignalStop ends the host with the given pid. Windows cannot deliver a
// catchable termination signal to another console process, so the host is
// killed outright and its child may outlive it.
func SignalStop(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
