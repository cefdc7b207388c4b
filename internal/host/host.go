// Package host plays the editor's part around the supervisor: it exposes the
// start, run-file and stop commands, raises the informational
// notifications, and records the active run so other tslive invocations can
// find it.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fakeyudi/tslive/internal/config"
	"github.com/fakeyudi/tslive/internal/logsink"
	"github.com/fakeyudi/tslive/internal/notify"
	"github.com/fakeyudi/tslive/internal/runner"
	"github.com/fakeyudi/tslive/internal/script"
	"github.com/fakeyudi/tslive/internal/session"
	"github.com/fakeyudi/tslive/internal/supervisor"
	"github.com/fakeyudi/tslive/internal/workspace"
)

// Options wires a Host.
type Options struct {
	Config   config.Config
	Sink     logsink.Sink
	Notifier notify.Notifier
	// Store receives the bookkeeping record; nil disables it.
	Store session.Store
	// EditorFolders lists folders open in the user's editor, if known.
	EditorFolders func() []string
	Logger        *slog.Logger
}

// Host owns one Supervisor for the lifetime of a tslive process.
type Host struct {
	sup      *supervisor.Supervisor
	notify   notify.Notifier
	store    session.Store
	resolver *workspace.Resolver
	logger   *slog.Logger

	mu     sync.Mutex
	record *session.Session
}

// New builds a Host from opts. The tsx install directory comes from the
// configuration, falling back to the directory of the tslive executable.
func New(opts Options) (*Host, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	installDir := opts.Config.InstallDir
	if installDir == "" {
		dir, err := runner.InstallDir()
		if err != nil {
			return nil, fmt.Errorf("locate install directory: %w", err)
		}
		installDir = dir
	}

	resolver := &workspace.Resolver{
		Folders:       opts.Config.WorkspaceFolders,
		EditorFolders: opts.EditorFolders,
		Logger:        logger,
	}

	h := &Host{
		notify:   opts.Notifier,
		store:    opts.Store,
		resolver: resolver,
		logger:   logger,
	}
	h.sup = supervisor.New(opts.Sink, opts.Notifier, supervisor.Options{
		InstallDir:     installDir,
		NodePath:       opts.Config.NodePath,
		SettleDelay:    opts.Config.SettleDelay.Std(),
		KillTimeout:    opts.Config.KillTimeout.Std(),
		Coalesce:       opts.Config.Coalesce(),
		IgnorePatterns: opts.Config.IgnorePatterns,
		Workspace:      resolver,
		Logger:         logger,
	})
	h.sup.OnStarted(h.started)
	return h, nil
}

// StartFocused runs the document the user is focused on. A nil doc means
// no editor is active.
func (h *Host) StartFocused(doc *script.Document) error {
	if err := script.ValidateDocument(doc); err != nil {
		h.notify.Error(err.Error())
		return err
	}
	return h.start(doc.Path)
}

// RunFile runs an explicitly chosen file.
func (h *Host) RunFile(path string) error {
	return h.start(path)
}

func (h *Host) start(path string) error {
	if err := h.sup.Start(path); err != nil {
		return err
	}
	h.notify.Info("JS/TS Live started for " + filepath.Base(path))
	return nil
}

// Restart re-runs the current entry file now.
func (h *Host) Restart() error {
	err := h.sup.Restart()
	if errors.Is(err, supervisor.ErrIdle) {
		h.notify.Error("Nothing to restart: no file has been started")
	}
	return err
}

// Stop ends the current run. It is safe to call when nothing runs.
func (h *Host) Stop() {
	h.sup.Stop()
	h.notify.Info("JS/TS Live stopped")

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.record == nil || h.store == nil {
		return
	}
	h.record.ChildPID = 0
	if err := h.store.Update(func(s *session.Session) { s.ChildPID = 0 }); err != nil {
		h.logger.Warn("update session record", "err", err)
	}
}

// Close shuts the supervisor down and removes the bookkeeping record.
func (h *Host) Close() error {
	h.sup.Shutdown()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.record == nil || h.store == nil {
		return nil
	}
	h.record = nil
	if err := h.store.Delete(); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

// ActiveFile returns the entry file of the current or last run.
func (h *Host) ActiveFile() string { return h.sup.ActiveFile() }

// Running reports whether the child is alive.
func (h *Host) Running() bool { return h.sup.Running() }

// PID returns the child's process ID, or 0.
func (h *Host) PID() int { return h.sup.PID() }

// Record returns a copy of the bookkeeping record, or nil before the first
// successful start.
func (h *Host) Record() *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.record == nil {
		return nil
	}
	cp := *h.record
	return &cp
}

// started runs under the supervisor lock after every spawn.
func (h *Host) started(file string, pid int, restart bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if restart && h.record != nil && h.record.FilePath == file {
		h.record.ChildPID = pid
		h.record.LastStart = now
		h.record.Restarts++
		if h.store != nil {
			rec := *h.record
			if err := h.store.Update(func(s *session.Session) { *s = rec }); err != nil {
				h.logger.Warn("update session record", "err", err)
			}
		}
		return
	}

	root, _ := h.resolver.Root(file)
	h.record = &session.Session{
		ID:            uuid.New().String(),
		FilePath:      file,
		WorkspaceRoot: root,
		HostPID:       os.Getpid(),
		ChildPID:      pid,
		StartTime:     now,
		LastStart:     now,
	}
	if h.store != nil {
		if err := h.store.Save(h.record); err != nil {
			h.logger.Warn("save session record", "err", err)
		}
	}
}
