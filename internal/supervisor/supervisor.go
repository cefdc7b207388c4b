// Package supervisor owns the single active run: it starts the tsx child for
// an entry file, streams its output to a log sink, and restarts it when
// source files in the surrounding workspace change.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/fakeyudi/tslive/internal/logsink"
	"github.com/fakeyudi/tslive/internal/notify"
	"github.com/fakeyudi/tslive/internal/runner"
	"github.com/fakeyudi/tslive/internal/script"
	"github.com/fakeyudi/tslive/internal/watch"
)

var (
	// ErrClosed is returned once Shutdown has been called.
	ErrClosed = errors.New("supervisor is shut down")
	// ErrIdle is returned by Restart when no entry file has been started.
	ErrIdle = errors.New("no file has been started")
)

// Patterns are the file globs whose changes trigger a restart: one per
// runnable script extension.
var Patterns = patternsFor(script.Extensions)

func patternsFor(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		out = append(out, "**/*"+ext)
	}
	return out
}

// WorkspaceResolver finds the workspace folder enclosing a file.
type WorkspaceResolver interface {
	Root(path string) (string, error)
}

// FileWatcher is one pattern-scoped subscription.
type FileWatcher interface {
	OnDidChange(h watch.Handler)
	OnDidCreate(h watch.Handler)
	OnDidDelete(h watch.Handler)
	Dispose() error
}

// Options configures a Supervisor.
type Options struct {
	// InstallDir holds node_modules/tsx.
	InstallDir string
	// NodePath is the node executable; defaults to "node".
	NodePath    string
	SettleDelay time.Duration
	KillTimeout time.Duration
	// Coalesce collapses a burst of file changes into one restart.
	Coalesce       bool
	IgnorePatterns []string
	Workspace      WorkspaceResolver
	Logger         *slog.Logger

	// NewWatcher creates a subscription; defaults to watch.New.
	NewWatcher func(root, pattern string) (FileWatcher, error)
}

// StartedFunc is told about every successful spawn. restart is true when
// the spawn was triggered by a file change rather than a Start call.
type StartedFunc func(file string, pid int, restart bool)

// Supervisor holds at most one running child and one set of file watchers.
// All methods are safe for concurrent use; they are serialized internally.
type Supervisor struct {
	opts    Options
	sink    logsink.Sink
	notify  notify.Notifier
	logger  *slog.Logger
	restart *deferred

	mu        sync.Mutex
	file      string
	proc      *runner.Process
	watchers  *watch.Group
	active    bool // a Start was accepted and no Stop has followed
	closed    bool
	onStarted StartedFunc
}

// New returns an idle Supervisor writing to sink and notifier.
func New(sink logsink.Sink, notifier notify.Notifier, opts Options) *Supervisor {
	if opts.NodePath == "" {
		opts.NodePath = "node"
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 100 * time.Millisecond
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewWatcher == nil {
		ignore, logger := opts.IgnorePatterns, opts.Logger
		opts.NewWatcher = func(root, pattern string) (FileWatcher, error) {
			return watch.New(root, pattern, watch.WithIgnorePatterns(ignore), watch.WithLogger(logger))
		}
	}

	s := &Supervisor{
		opts:   opts,
		sink:   sink,
		notify: notifier,
		logger: opts.Logger,
	}
	s.restart = newDeferred(opts.SettleDelay, opts.Coalesce, s.restartEntry)
	return s
}

// OnStarted registers fn to run after each successful spawn. fn runs with
// the supervisor lock held and must not call back into the Supervisor.
func (s *Supervisor) OnStarted(fn StartedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStarted = fn
}

// Start runs filePath, replacing any current session. Invalid files are
// reported and leave the current session untouched.
func (s *Supervisor) Start(filePath string) error {
	if err := script.ValidatePath(filePath); err != nil {
		s.notify.Error(err.Error())
		return err
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		s.notify.Error(err.Error())
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.active = true
	return s.startLocked(abs, false)
}

// Restart re-runs the current entry file immediately.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.file == "" {
		return ErrIdle
	}
	s.active = true
	return s.startLocked(s.file, true)
}

// restartEntry is the deferred reaction to a file change. It always runs
// the entry file recorded for the session, not the file that changed.
func (s *Supervisor) restartEntry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.active || s.file == "" {
		return
	}
	_ = s.startLocked(s.file, true)
}

func (s *Supervisor) startLocked(file string, restart bool) error {
	// In legacy mode pending restarts survive a replacement, so that every
	// change event gets its own restart.
	s.stopLocked(s.opts.Coalesce)
	s.file = file

	s.sink.Clear()
	s.sink.Show()
	s.sink.AppendLine(fmt.Sprintf("Starting %s...\n", filepath.Base(file)))

	cli, err := runner.Resolve(s.opts.InstallDir)
	if err != nil {
		s.sink.AppendLine(fmt.Sprintf("Error resolving tsx: %v", err))
		s.notify.Error("tsx not found. Please install tsx dependency.")
		s.logger.Error("resolve tsx", "install_dir", s.opts.InstallDir, "err", err)
		return err
	}

	spec := runner.Command(s.opts.NodePath, cli, file)
	spec.Stdout = &streamWriter{sink: s.sink}
	spec.Stderr = &streamWriter{sink: s.sink}

	proc, err := runner.Start(spec, s.exited)
	if err != nil {
		s.sink.AppendLine("\nError: " + err.Error())
		s.notify.Error("Failed to start JS/TS Live: " + err.Error())
		s.logger.Error("spawn runner", "file", file, "err", err)
		return fmt.Errorf("spawn runner: %w", err)
	}
	s.proc = proc
	s.logger.Info("run started", "file", file, "pid", proc.PID(), "restart", restart)

	s.watchLocked(file)

	if s.onStarted != nil {
		s.onStarted(file, proc.PID(), restart)
	}
	return nil
}

// exited runs on the process's wait goroutine once its output has drained.
// It must not take s.mu: stopLocked waits for it while holding the lock.
func (s *Supervisor) exited(p *runner.Process) {
	switch err := p.Err(); {
	case errors.Is(err, exec.ErrWaitDelay):
		// The run itself finished; a background child kept its output open.
		s.logger.Warn("output still held after exit", "pid", p.PID(), "err", err)
	case err != nil:
		s.sink.AppendLine("\nError: " + err.Error())
		s.notify.Error("Failed to start JS/TS Live: " + err.Error())
	}
	if code := p.ExitCode(); code >= 0 {
		s.sink.AppendLine(fmt.Sprintf("\nProcess exited with code %d", code))
	}
	s.logger.Debug("run exited", "pid", p.PID(), "code", p.ExitCode())
}

// Stop ends the current run and drops its watchers. Calling Stop with no
// active session does nothing.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.stopLocked(true)
}

func (s *Supervisor) stopLocked(cancelPending bool) {
	if cancelPending {
		s.restart.Cancel()
	}

	if s.proc != nil {
		proc := s.proc
		s.proc = nil
		proc.Terminate(s.opts.KillTimeout)
		s.sink.AppendLine("\nProcess stopped\n")
		s.logger.Info("run stopped", "pid", proc.PID())
	}

	if s.watchers != nil {
		if err := s.watchers.Dispose(); err != nil {
			s.logger.Warn("dispose watchers", "err", err)
		}
		s.watchers = nil
	}
}

// Watch subscribes to script changes in the workspace enclosing filePath.
// Without an enclosing workspace it does nothing.
func (s *Supervisor) Watch(filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.watchLocked(filePath)
}

func (s *Supervisor) watchLocked(file string) {
	if s.watchers != nil {
		_ = s.watchers.Dispose()
		s.watchers = nil
	}
	if s.opts.Workspace == nil {
		return
	}

	root, err := s.opts.Workspace.Root(file)
	if err != nil {
		s.logger.Debug("not watching", "file", file, "err", err)
		return
	}

	members := make([]interface{ Dispose() error }, 0, len(Patterns))
	for _, pattern := range Patterns {
		w, err := s.opts.NewWatcher(root, pattern)
		if err != nil {
			// Watching is best-effort.
			s.logger.Warn("watch workspace", "root", root, "pattern", pattern, "err", err)
			_ = watch.NewGroup(members...).Dispose()
			return
		}
		w.OnDidChange(s.fileChanged)
		w.OnDidCreate(s.fileChanged)
		w.OnDidDelete(s.fileChanged)
		members = append(members, w)
	}
	s.watchers = watch.NewGroup(members...)
	s.logger.Debug("watching workspace", "root", root)
}

// fileChanged runs on a watcher goroutine. It must not take s.mu: Dispose
// waits for it while the lock is held.
func (s *Supervisor) fileChanged(ev watch.Event) {
	s.sink.AppendLine("\nFile changed: " + filepath.Base(ev.Path))
	s.sink.AppendLine("Restarting...\n")
	s.logger.Debug("file changed", "path", ev.Path, "op", ev.Op.String())
	s.restart.Schedule()
}

// Shutdown stops the session and releases the log sink. The Supervisor
// cannot be used afterwards.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.active = false
	s.stopLocked(true)
	s.sink.Dispose()
}

// ActiveFile returns the entry file of the current or last session.
func (s *Supervisor) ActiveFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Running reports whether a child process is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && !s.proc.Exited()
}

// HasProcess reports whether a process handle is held, whether or not the
// process has exited on its own.
func (s *Supervisor) HasProcess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Watching reports whether a watch set is active.
func (s *Supervisor) Watching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchers != nil
}

// PID returns the child's process ID, or 0 when there is none.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// PendingRestarts returns how many deferred restarts are queued.
func (s *Supervisor) PendingRestarts() int {
	return s.restart.Pending()
}

// streamWriter appends raw output chunks to the sink as they arrive.
type streamWriter struct {
	sink logsink.Sink
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.sink.Append(string(p))
	return len(p), nil
}
