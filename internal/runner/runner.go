// Package runner locates the bundled tsx CLI and manages the child process
// that executes a script with it.
package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// ErrRunnerNotFound is returned by Resolve when the tsx CLI is not present
// under the install directory.
var ErrRunnerNotFound = errors.New("tsx CLI not found in extension dependencies")

// waitDelay bounds how long Wait keeps copying output after the process
// itself has exited (a grandchild may still hold the pipes).
const waitDelay = 2 * time.Second

// CLIPath returns where the tsx CLI is expected inside installDir.
func CLIPath(installDir string) string {
	return filepath.Join(installDir, "node_modules", "tsx", "dist", "cli.js")
}

// Resolve returns the path of the tsx CLI bundled under installDir.
func Resolve(installDir string) (string, error) {
	p := CLIPath(installDir)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrRunnerNotFound
		}
		return "", fmt.Errorf("stat tsx CLI: %w", err)
	}
	return p, nil
}

// InstallDir returns the directory holding the running executable, with
// symlinks resolved.
func InstallDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// Spec describes one child process.
type Spec struct {
	// Name is the executable name or path (e.g. "node").
	Name string
	// Args excludes Name.
	Args []string
	// Dir is the working directory.
	Dir string
	// Env is inherited from the current process when empty.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Command builds the Spec that runs file with the tsx CLI under node.
func Command(node, cliPath, file string) Spec {
	return Spec{
		Name: node,
		Args: []string{cliPath, file},
		Dir:  filepath.Dir(file),
	}
}

// Process is a started child. Its stdin is always /dev/null.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	err      error
}

// Start launches spec in its own process group. onExit, if non-nil, runs
// after both output streams have drained and before Done is closed.
func Start(spec Spec, onExit func(p *Process)) (*Process, error) {
	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	cmd.Stdin = nil
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.WaitDelay = waitDelay
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go p.wait(onExit)
	return p, nil
}

func (p *Process) wait(onExit func(p *Process)) {
	err := p.cmd.Wait()

	p.mu.Lock()
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = err
	}
	p.mu.Unlock()

	if onExit != nil {
		onExit(p)
	}
	close(p.done)
}

// PID returns the operating system process ID.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and onExit has returned.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has finished.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status, or -1 while running or when the
// process was ended by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Err returns a failure that is not a plain non-zero exit, such as an I/O
// error while copying output.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Terminate asks the process group to exit and waits up to timeout before
// killing it. It returns once the process is gone.
func (p *Process) Terminate(timeout time.Duration) {
	if p.Exited() {
		return
	}
	if err := terminate(p.cmd); err != nil {
		_ = kill(p.cmd)
	}

	select {
	case <-p.done:
		return
	case <-time.After(timeout):
	}

	_ = kill(p.cmd)
	<-p.done
}
