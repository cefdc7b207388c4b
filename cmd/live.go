package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tslive/internal/editor"
	"github.com/fakeyudi/tslive/internal/host"
	"github.com/fakeyudi/tslive/internal/logsink"
	"github.com/fakeyudi/tslive/internal/notify"
	"github.com/fakeyudi/tslive/internal/session"
	"github.com/fakeyudi/tslive/internal/tui"
)

// liveHost starts a host, runs begin against it, and keeps it alive until
// the user quits the panel or the process is signalled.
func liveHost(cmd *cobra.Command, detector *editor.Detector, begin func(h *host.Host) error) error {
	store, err := session.NewStore()
	if err != nil {
		return err
	}
	lock, err := session.AcquireHostLock()
	if errors.Is(err, session.ErrLocked) {
		return runningError(store, err)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("release host lock", "err", err)
		}
	}()
	if err := checkNotRunning(store); err != nil {
		return err
	}

	var (
		sink     logsink.Sink
		buffer   *logsink.Buffer
		notifier notify.Notifier
		notes    chan notify.Message
	)
	if plainOutput {
		sink = logsink.NewTerminal(cmd.OutOrStdout())
		notifier = notify.NewTerminal(cmd.ErrOrStderr())
	} else {
		buffer = logsink.NewBuffer()
		sink = buffer
		notes = make(chan notify.Message, 64)
		notifier = notify.Func(func(level notify.Level, msg string) {
			select {
			case notes <- notify.Message{Level: level, Text: msg}:
			default:
				slog.Warn("notification dropped", "text", msg)
			}
		})
	}

	opts := host.Options{
		Config:   GetConfig(),
		Sink:     sink,
		Notifier: notifier,
		Store:    store,
		Logger:   slog.Default(),
	}
	if detector != nil {
		opts.EditorFolders = detector.WorkspaceFolders
	}
	h, err := host.New(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(); err != nil {
			slog.Warn("close host", "err", err)
		}
	}()

	if err := begin(h); err != nil {
		// The failure was reported through the notifier. In panel mode it
		// was only queued, so print the log and queued notes instead.
		if buffer != nil {
			fmt.Fprint(cmd.OutOrStdout(), buffer.String())
		}
		if notes != nil {
			flushNotes(cmd, notes)
		}
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), host.ShutdownSignals...)
	defer cancel()

	if plainOutput {
		<-ctx.Done()
		return nil
	}
	return tui.Run(ctx, h, buffer, notes)
}

// runningError describes the host that holds the lock, falling back to
// cause when its record is not readable yet.
func runningError(store session.Store, cause error) error {
	s, err := store.Load()
	if err != nil {
		return cause
	}
	return fmt.Errorf("tslive is already running %s (pid %d)", filepath.Base(s.FilePath), s.HostPID)
}

// checkNotRunning refuses to start a second host while one is alive. A
// record left behind by a host that died is discarded.
func checkNotRunning(store session.Store) error {
	s, err := store.Load()
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if host.Alive(s.HostPID) {
		return fmt.Errorf("tslive is already running %s (pid %d)", filepath.Base(s.FilePath), s.HostPID)
	}
	return store.Delete()
}

// flushNotes prints notifications that were queued for a panel that never
// opened.
func flushNotes(cmd *cobra.Command, notes chan notify.Message) {
	out := notify.NewTerminal(cmd.ErrOrStderr())
	for {
		select {
		case n := <-notes:
			if n.Level == notify.LevelError {
				out.Error(n.Text)
			} else {
				out.Info(n.Text)
			}
		default:
			return
		}
	}
}
