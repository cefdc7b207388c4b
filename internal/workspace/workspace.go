// Package workspace finds the workspace folder that encloses a file.
package workspace

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNoWorkspace is returned when no workspace folder encloses the file.
var ErrNoWorkspace = errors.New("file is not inside a workspace folder")

// GitRunner executes a git command and returns its output.
// This abstraction allows mocking in tests.
type GitRunner func(workDir string, args ...string) (string, error)

// defaultGitRunner runs git as a real subprocess.
func defaultGitRunner(workDir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = workDir
	out, err := cmd.Output()
	return string(out), err
}

// DefaultMarkers identify a JavaScript project root when nothing else does.
var DefaultMarkers = []string{"package.json"}

// Resolver determines the workspace root for a file. Sources are consulted
// in order: configured folders, editor folders, the enclosing git
// repository, then the nearest directory holding a marker file.
type Resolver struct {
	Folders       []string
	EditorFolders func() []string
	Git           GitRunner // if nil, uses the real git subprocess
	Markers       []string  // if nil, DefaultMarkers
	Logger        *slog.Logger
}

// Root returns the workspace folder enclosing path, or ErrNoWorkspace.
func (r *Resolver) Root(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if root, ok := deepestContaining(r.Folders, abs); ok {
		return root, nil
	}
	if r.EditorFolders != nil {
		if root, ok := deepestContaining(r.EditorFolders(), abs); ok {
			return root, nil
		}
	}
	if root, ok := r.gitTopLevel(filepath.Dir(abs)); ok {
		return root, nil
	}
	if root, ok := r.markerRoot(filepath.Dir(abs)); ok {
		return root, nil
	}
	return "", ErrNoWorkspace
}

// deepestContaining picks the most specific folder that holds path, the
// way nested workspace folders are resolved.
func deepestContaining(folders []string, path string) (string, bool) {
	best := ""
	for _, f := range folders {
		if f == "" {
			continue
		}
		f, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		if Contains(f, path) && len(f) > len(best) {
			best = f
		}
	}
	return best, best != ""
}

// Contains reports whether path is folder or lies beneath it.
func Contains(folder, path string) bool {
	rel, err := filepath.Rel(folder, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (r *Resolver) gitTopLevel(dir string) (string, bool) {
	runner := r.Git
	if runner == nil {
		runner = defaultGitRunner
	}
	out, err := runner(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		// Exit 128 is "not a git repository"; anything else (git missing,
		// permissions) is worth a debug line but resolves the same way.
		if !isExitCode128(err) && r.Logger != nil {
			r.Logger.Debug("git workspace lookup failed", "dir", dir, "err", err)
		}
		return "", false
	}
	top := strings.TrimSpace(out)
	if top == "" {
		return "", false
	}
	return filepath.Clean(top), true
}

func (r *Resolver) markerRoot(dir string) (string, bool) {
	markers := r.Markers
	if markers == nil {
		markers = DefaultMarkers
	}
	for {
		for _, m := range markers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// isExitCode128 reports whether err is an *exec.ExitError with exit code 128,
// which git uses for "not a git repository".
func isExitCode128(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() == 128
	}
	return false
}
