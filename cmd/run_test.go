package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/fakeyudi/tslive/internal/session"
)

func TestRunRejectsUnsupportedFile(t *testing.T) {
	isolate(t)

	out, err := executeCommand(rootCmd, "run", "--plain", "notes.md")
	if err == nil {
		t.Fatal("expected an error for a markdown file")
	}
	if !strings.Contains(out, "Selected file is not a JavaScript, TypeScript, or TSX file") {
		t.Errorf("output = %q", out)
	}
}

func TestRunWithoutFile(t *testing.T) {
	isolate(t)

	out, err := executeCommand(rootCmd, "run", "--plain")
	if err == nil {
		t.Fatal("expected an error without a file")
	}
	if !strings.Contains(out, "No file selected") {
		t.Errorf("output = %q", out)
	}
}

func TestRunRefusesSecondHost(t *testing.T) {
	store := isolate(t)
	if err := store.Save(liveRecord("/w/app.ts")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := executeCommand(rootCmd, "run", "--plain", "other.ts")
	if err == nil {
		t.Fatal("expected an error while another host runs")
	}
	if combined := out + err.Error(); !strings.Contains(combined, "already running app.ts") {
		t.Errorf("output = %q", combined)
	}
}

func TestRunRefusesWhileLockHeld(t *testing.T) {
	store := isolate(t)
	lock, err := session.AcquireHostLock()
	if err != nil {
		t.Fatalf("AcquireHostLock: %v", err)
	}
	defer lock.Release()

	_, err = executeCommand(rootCmd, "run", "--plain", "other.ts")
	if !errors.Is(err, session.ErrLocked) {
		t.Fatalf("expected ErrLocked without a record, got %v", err)
	}

	if err := store.Save(liveRecord("/w/app.ts")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := executeCommand(rootCmd, "run", "--plain", "other.ts")
	if err == nil {
		t.Fatal("expected an error while the lock is held")
	}
	if combined := out + err.Error(); !strings.Contains(combined, "already running app.ts") {
		t.Errorf("output = %q", combined)
	}
}
