//go:build windows

package runner

import "os/exec"

func setProcAttr(cmd *exec.Cmd) {}

// Windows has no SIGTERM or process groups here, so terminate kills directly.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
