package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/tslive/internal/logsink"
	"github.com/fakeyudi/tslive/internal/notify"
	"github.com/fakeyudi/tslive/internal/runner"
	"github.com/fakeyudi/tslive/internal/script"
	"github.com/fakeyudi/tslive/internal/watch"
)

// ── fixtures ──

type rootFunc func(path string) (string, error)

func (f rootFunc) Root(path string) (string, error) { return f(path) }

type fakeWatcher struct {
	root, pattern string

	mu       sync.Mutex
	handlers []watch.Handler
	disposed bool
}

func (f *fakeWatcher) OnDidChange(h watch.Handler) { f.add(h) }
func (f *fakeWatcher) OnDidCreate(h watch.Handler) { f.add(h) }
func (f *fakeWatcher) OnDidDelete(h watch.Handler) { f.add(h) }

func (f *fakeWatcher) add(h watch.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeWatcher) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	return nil
}

// fire delivers ev to the first registered handler, as a real watcher
// reports each change once.
func (f *fakeWatcher) fire(ev watch.Event) {
	f.mu.Lock()
	if f.disposed || len(f.handlers) == 0 {
		f.mu.Unlock()
		return
	}
	h := f.handlers[0]
	f.mu.Unlock()
	h(ev)
}

type fakeWatchers struct {
	mu   sync.Mutex
	list []*fakeWatcher
}

func (fw *fakeWatchers) New(root, pattern string) (FileWatcher, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	w := &fakeWatcher{root: root, pattern: pattern}
	fw.list = append(fw.list, w)
	return w, nil
}

// live returns the watchers that have not been disposed.
func (fw *fakeWatchers) live() []*fakeWatcher {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	var out []*fakeWatcher
	for _, w := range fw.list {
		w.mu.Lock()
		if !w.disposed {
			out = append(out, w)
		}
		w.mu.Unlock()
	}
	return out
}

type harness struct {
	sup      *Supervisor
	buf      *logsink.Buffer
	rec      *notify.Recorder
	watchers *fakeWatchers
	dir      string
	entry    string
	restarts atomic.Int32
}

// newHarness builds a Supervisor whose "node" is a shell script with the
// given body, and whose tsx CLI is an empty placeholder file.
func newHarness(t *testing.T, nodeBody string, mutate func(*Options)) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the node executable")
	}

	dir := t.TempDir()
	install := filepath.Join(dir, "install")
	cli := runner.CLIPath(install)
	if err := os.MkdirAll(filepath.Dir(cli), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cli, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	node := filepath.Join(dir, "node")
	if err := os.WriteFile(node, []byte("#!/bin/sh\n"+nodeBody+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	project := filepath.Join(dir, "project")
	if err := os.MkdirAll(project, 0o755); err != nil {
		t.Fatal(err)
	}
	entry := filepath.Join(project, "app.ts")
	if err := os.WriteFile(entry, []byte("console.log('hello')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		buf:      logsink.NewBuffer(),
		rec:      &notify.Recorder{},
		watchers: &fakeWatchers{},
		dir:      project,
		entry:    entry,
	}
	opts := Options{
		InstallDir:  install,
		NodePath:    node,
		SettleDelay: 50 * time.Millisecond,
		KillTimeout: time.Second,
		Coalesce:    true,
		Workspace:   rootFunc(func(string) (string, error) { return project, nil }),
		NewWatcher:  h.watchers.New,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.sup = New(h.buf, h.rec, opts)
	h.sup.OnStarted(func(file string, pid int, restart bool) {
		if restart {
			h.restarts.Add(1)
		}
	})
	t.Cleanup(h.sup.Shutdown)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

const longRunning = `echo "running $$"; exec sleep 30`

// ── start ──

func TestStartStreamsOutputAndExitCode(t *testing.T) {
	h := newHarness(t, `echo hello`, nil)

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "exit line", func() bool {
		return strings.Contains(h.buf.String(), "Process exited with code 0")
	})

	want := "Starting app.ts...\n\nhello\n\nProcess exited with code 0\n"
	if got := h.buf.String(); got != want {
		t.Errorf("log = %q, want %q", got, want)
	}
	if !h.buf.Shown() {
		t.Error("log sink was not shown")
	}
	if errs := h.rec.Errors(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if h.sup.ActiveFile() != h.entry {
		t.Errorf("ActiveFile = %q", h.sup.ActiveFile())
	}
	if len(h.watchers.live()) != len(Patterns) {
		t.Errorf("expected %d watchers, got %d", len(Patterns), len(h.watchers.live()))
	}
}

func TestStartReportsNonZeroExit(t *testing.T) {
	h := newHarness(t, `echo boom >&2; exit 3`, nil)

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "exit line", func() bool {
		return strings.Contains(h.buf.String(), "Process exited with code 3")
	})
	if !strings.Contains(h.buf.String(), "boom") {
		t.Errorf("stderr not captured: %q", h.buf.String())
	}
	// The watchers stay so that fixing the script triggers a rerun.
	if !h.sup.Watching() {
		t.Error("watchers dropped after a failing run")
	}
}

func TestStartMissingRunner(t *testing.T) {
	h := newHarness(t, `echo hello`, func(o *Options) { o.InstallDir = t.TempDir() })

	err := h.sup.Start(h.entry)
	if !errors.Is(err, runner.ErrRunnerNotFound) {
		t.Fatalf("expected ErrRunnerNotFound, got %v", err)
	}
	if !strings.Contains(h.buf.String(), "Error resolving tsx: tsx CLI not found in extension dependencies") {
		t.Errorf("log = %q", h.buf.String())
	}
	errs := h.rec.Errors()
	if len(errs) != 1 || errs[0] != "tsx not found. Please install tsx dependency." {
		t.Errorf("errors = %v", errs)
	}
	if h.sup.HasProcess() || h.sup.Watching() {
		t.Error("supervisor should be idle after a missing runner")
	}
}

func TestStartSpawnFailure(t *testing.T) {
	h := newHarness(t, `echo hello`, func(o *Options) {
		o.NodePath = filepath.Join(t.TempDir(), "missing-node")
	})

	if err := h.sup.Start(h.entry); err == nil {
		t.Fatal("expected spawn error")
	}
	if !strings.Contains(h.buf.String(), "\nError: ") {
		t.Errorf("log = %q", h.buf.String())
	}
	errs := h.rec.Errors()
	if len(errs) != 1 || !strings.HasPrefix(errs[0], "Failed to start JS/TS Live: ") {
		t.Errorf("errors = %v", errs)
	}
	if h.sup.HasProcess() {
		t.Error("no process should be held after a spawn failure")
	}
}

func TestStartRejectsInvalidFileWithoutTouchingSession(t *testing.T) {
	h := newHarness(t, longRunning, nil)

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := h.sup.PID()
	before := h.buf.String()

	if err := h.sup.Start(filepath.Join(h.dir, "notes.md")); err == nil {
		t.Fatal("expected validation error")
	}
	if h.sup.PID() != pid || !h.sup.Running() {
		t.Error("running session was disturbed")
	}
	if h.sup.ActiveFile() != h.entry {
		t.Errorf("ActiveFile = %q", h.sup.ActiveFile())
	}
	if got := h.buf.String(); !strings.HasPrefix(got, before) {
		t.Errorf("log was cleared: %q", got)
	}
	errs := h.rec.Errors()
	if len(errs) != 1 || errs[0] != "Selected file is not a JavaScript, TypeScript, or TSX file" {
		t.Errorf("errors = %v", errs)
	}
}

func TestInvalidNamesNeverDisturbSession(t *testing.T) {
	h := newHarness(t, longRunning, nil)

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := h.sup.PID()

	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[A-Za-z0-9_.-]{0,24}`).Draw(rt, "name")
		if script.KindOf(name) != script.KindUnknown {
			rt.Skip("runnable extension")
		}
		before := h.buf.String()

		if err := h.sup.Start(filepath.Join(h.dir, name)); err == nil {
			rt.Fatalf("Start(%q) accepted a non-script name", name)
		}
		if h.sup.PID() != pid || !h.sup.Running() {
			rt.Fatalf("Start(%q) disturbed the running process", name)
		}
		if h.sup.ActiveFile() != h.entry {
			rt.Fatalf("ActiveFile = %q after Start(%q)", h.sup.ActiveFile(), name)
		}
		if got := h.buf.String(); got != before {
			rt.Fatalf("Start(%q) wrote to the log: %q", name, got)
		}
		if got := len(h.watchers.live()); got != len(Patterns) {
			rt.Fatalf("live watchers = %d after Start(%q)", got, name)
		}
	})
}

func TestHeldOutputIsNotASpawnFailure(t *testing.T) {
	// The background sleep keeps stdout open after the script exits.
	h := newHarness(t, `echo hello; sleep 4 &`, nil)

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "exit line", func() bool {
		return strings.Contains(h.buf.String(), "Process exited with code 0")
	})
	if errs := h.rec.Errors(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if strings.Contains(h.buf.String(), "Error:") {
		t.Errorf("log = %q", h.buf.String())
	}
}

func TestPatternsCoverEveryScriptExtension(t *testing.T) {
	want := []string{"**/*.ts", "**/*.tsx", "**/*.js"}
	if len(Patterns) != len(want) {
		t.Fatalf("Patterns = %v", Patterns)
	}
	for i := range want {
		if Patterns[i] != want[i] {
			t.Errorf("Patterns[%d] = %q, want %q", i, Patterns[i], want[i])
		}
	}
}

func TestStartReplacesRunningProcess(t *testing.T) {
	h := newHarness(t, longRunning, nil)

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := h.sup.PID()

	other := filepath.Join(h.dir, "other.js")
	if err := h.sup.Start(other); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.sup.PID() == first {
		t.Error("process was not replaced")
	}
	if h.sup.ActiveFile() != other {
		t.Errorf("ActiveFile = %q", h.sup.ActiveFile())
	}
	if !strings.HasPrefix(h.buf.String(), "Starting other.js...") {
		t.Errorf("log not cleared for the new run: %q", h.buf.String())
	}
	if got := len(h.watchers.live()); got != len(Patterns) {
		t.Errorf("live watchers = %d, want %d", got, len(Patterns))
	}
}

func TestStartWithoutWorkspaceSkipsWatching(t *testing.T) {
	h := newHarness(t, longRunning, func(o *Options) {
		o.Workspace = rootFunc(func(string) (string, error) { return "", errors.New("no workspace") })
	})

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.sup.Running() {
		t.Error("process should run without a workspace")
	}
	if h.sup.Watching() || len(h.watchers.live()) != 0 {
		t.Error("no watchers expected without a workspace")
	}
}

// ── restart on change ──

func TestFileChangeRestartsEntryFile(t *testing.T) {
	h := newHarness(t, longRunning, nil)

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := h.sup.PID()

	h.watchers.live()[0].fire(watch.Event{Path: filepath.Join(h.dir, "util.ts"), Op: watch.OpChange})
	if !strings.Contains(h.buf.String(), "\nFile changed: util.ts\nRestarting...\n") {
		t.Errorf("log = %q", h.buf.String())
	}

	waitFor(t, "restart", func() bool { return h.restarts.Load() == 1 })
	if h.sup.PID() == first {
		t.Error("process was not restarted")
	}
	if h.sup.ActiveFile() != h.entry {
		t.Errorf("restart ran %q, want the entry file", h.sup.ActiveFile())
	}
	if !strings.HasPrefix(h.buf.String(), "Starting app.ts...") {
		t.Errorf("log = %q", h.buf.String())
	}
}

func TestBurstCoalescesIntoOneRestart(t *testing.T) {
	h := newHarness(t, longRunning, nil)

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w := h.watchers.live()[0]
	w.fire(watch.Event{Path: filepath.Join(h.dir, "a.ts"), Op: watch.OpChange})
	time.Sleep(10 * time.Millisecond)
	w.fire(watch.Event{Path: filepath.Join(h.dir, "b.ts"), Op: watch.OpChange})

	waitFor(t, "restart", func() bool { return h.restarts.Load() >= 1 })
	time.Sleep(200 * time.Millisecond)
	if got := h.restarts.Load(); got != 1 {
		t.Errorf("restarts = %d, want 1", got)
	}
	if !h.sup.Running() {
		t.Error("expected a running process after the restart")
	}
}

func TestLegacyModeRestartsPerEvent(t *testing.T) {
	h := newHarness(t, longRunning, func(o *Options) { o.Coalesce = false })

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w := h.watchers.live()[0]
	w.fire(watch.Event{Path: filepath.Join(h.dir, "a.ts"), Op: watch.OpChange})
	time.Sleep(10 * time.Millisecond)
	w.fire(watch.Event{Path: filepath.Join(h.dir, "b.ts"), Op: watch.OpCreate})

	waitFor(t, "two restarts", func() bool { return h.restarts.Load() == 2 })
	time.Sleep(200 * time.Millisecond)
	if got := h.restarts.Load(); got != 2 {
		t.Errorf("restarts = %d, want 2", got)
	}
	if !h.sup.Running() {
		t.Error("expected exactly one running process")
	}
	if got := len(h.watchers.live()); got != len(Patterns) {
		t.Errorf("live watchers = %d, want %d", got, len(Patterns))
	}
}

// ── stop ──

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, longRunning, nil)

	h.sup.Stop()
	if h.buf.String() != "" {
		t.Errorf("stop while idle wrote %q", h.buf.String())
	}

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sup.Stop()
	h.sup.Stop()

	if n := strings.Count(h.buf.String(), "Process stopped"); n != 1 {
		t.Errorf("'Process stopped' logged %d times", n)
	}
	if h.sup.HasProcess() || h.sup.Watching() {
		t.Error("stop left state behind")
	}
	if len(h.watchers.live()) != 0 {
		t.Error("watchers not disposed")
	}
}

func TestStopCancelsPendingRestart(t *testing.T) {
	h := newHarness(t, longRunning, func(o *Options) { o.Coalesce = false })

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.watchers.live()[0].fire(watch.Event{Path: filepath.Join(h.dir, "a.ts"), Op: watch.OpDelete})
	h.sup.Stop()

	time.Sleep(200 * time.Millisecond)
	if h.restarts.Load() != 0 || h.sup.HasProcess() {
		t.Error("restart fired after stop")
	}
	if h.sup.PendingRestarts() != 0 {
		t.Errorf("pending restarts = %d", h.sup.PendingRestarts())
	}
}

func TestRestartWhileIdle(t *testing.T) {
	h := newHarness(t, longRunning, nil)
	if err := h.sup.Restart(); !errors.Is(err, ErrIdle) {
		t.Fatalf("expected ErrIdle, got %v", err)
	}
}

func TestShutdownDisposesSink(t *testing.T) {
	h := newHarness(t, longRunning, nil)

	if err := h.sup.Start(h.entry); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sup.Shutdown()
	h.sup.Shutdown()

	if !h.buf.Disposed() {
		t.Error("sink not disposed")
	}
	if h.sup.HasProcess() {
		t.Error("process survived shutdown")
	}
	if err := h.sup.Start(h.entry); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
