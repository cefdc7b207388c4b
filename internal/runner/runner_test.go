package runner

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

// lockedBuffer is a bytes.Buffer safe for the exec copy goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func TestResolveMissing(t *testing.T) {
	_, err := Resolve(t.TempDir())
	if !errors.Is(err, ErrRunnerNotFound) {
		t.Fatalf("expected ErrRunnerNotFound, got %v", err)
	}
}

func TestResolvePresent(t *testing.T) {
	dir := t.TempDir()
	cli := CLIPath(dir)
	if err := os.MkdirAll(filepath.Dir(cli), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cli, []byte("// tsx"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != cli {
		t.Errorf("got %q, want %q", got, cli)
	}
}

func TestCommandUsesFileDirectory(t *testing.T) {
	spec := Command("node", "/opt/tslive/node_modules/tsx/dist/cli.js", "/work/src/app.ts")
	if spec.Dir != "/work/src" {
		t.Errorf("Dir = %q, want /work/src", spec.Dir)
	}
	if len(spec.Args) != 2 || spec.Args[1] != "/work/src/app.ts" {
		t.Errorf("unexpected args %v", spec.Args)
	}
}

func TestStartCapturesOutputAndExitCode(t *testing.T) {
	skipOnWindows(t)

	var out lockedBuffer
	var exitSeen int
	p, err := Start(Spec{
		Name:   "sh",
		Args:   []string{"-c", "echo hello; echo oops 1>&2; exit 3"},
		Dir:    t.TempDir(),
		Stdout: &out,
		Stderr: &out,
	}, func(p *Process) { exitSeen = p.ExitCode() })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	if exitSeen != 3 || p.ExitCode() != 3 {
		t.Errorf("exit code: callback=%d process=%d, want 3", exitSeen, p.ExitCode())
	}
	got := out.String()
	if !bytes.Contains([]byte(got), []byte("hello\n")) || !bytes.Contains([]byte(got), []byte("oops\n")) {
		t.Errorf("missing output: %q", got)
	}
	if p.Err() != nil {
		t.Errorf("unexpected Err: %v", p.Err())
	}
}

func TestStartRunsInDir(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	var out lockedBuffer
	p, err := Start(Spec{Name: "pwd", Dir: dir, Stdout: &out}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-p.Done()

	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(string(bytes.TrimSpace([]byte(out.String()))))
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestStartMissingExecutable(t *testing.T) {
	_, err := Start(Spec{Name: "tslive-no-such-binary-xyz"}, nil)
	if err == nil {
		t.Fatal("expected spawn error")
	}
}

func TestTerminateStopsProcess(t *testing.T) {
	skipOnWindows(t)

	p, err := Start(Spec{Name: "sleep", Args: []string{"30"}}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	p.Terminate(2 * time.Second)
	if !p.Exited() {
		t.Fatal("process still running after Terminate")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Terminate took too long")
	}
	if p.ExitCode() != -1 {
		t.Errorf("signalled process should report -1, got %d", p.ExitCode())
	}

	// Terminating an exited process is a no-op.
	p.Terminate(time.Second)
}
