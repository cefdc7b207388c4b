// Package editor reads editor state from disk to find the document the user
// is focused on and the workspace folders they have open.
// Supported: VS Code and its forks (Cursor, Windsurf, Kiro, VSCodium) and Vim.
package editor

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fakeyudi/tslive/internal/script"
)

// ErrNoDocument is returned when no editor reports a recently focused file.
var ErrNoDocument = errors.New("no focused document found")

// Detector locates editor state under a home directory.
type Detector struct {
	Home string
	// StateDir overrides the VS Code workspaceStorage directory (used in tests).
	StateDir string
}

// NewDetector returns a Detector for the current user.
func NewDetector() (*Detector, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home dir: %w", err)
	}
	return &Detector{Home: home}, nil
}

// candidate is one editor's idea of the focused document, stamped with when
// that editor last wrote its state.
type candidate struct {
	doc *script.Document
	at  time.Time
}

// FocusedDocument returns the most recently focused document across all
// supported editors.
func (d *Detector) FocusedDocument() (*script.Document, error) {
	var best *candidate
	consider := func(c *candidate) {
		if c != nil && (best == nil || c.at.After(best.at)) {
			best = c
		}
	}

	for _, dir := range d.storageDirs() {
		consider(focusedVSCode(dir))
	}
	consider(focusedVim(filepath.Join(d.Home, ".viminfo"), d.Home))

	if best == nil {
		return nil, ErrNoDocument
	}
	return best.doc, nil
}

// WorkspaceFolders returns folders open in VS Code-family editors.
func (d *Detector) WorkspaceFolders() []string {
	seen := make(map[string]bool)
	var folders []string
	for _, dir := range d.storageDirs() {
		for _, f := range workspaceFolders(dir) {
			if !seen[f] {
				seen[f] = true
				folders = append(folders, f)
			}
		}
	}
	return folders
}

// ── VS Code fork family ───

var vscodeAppDirs = []string{"Code", "Cursor", "Windsurf", "Kiro", "VSCodium"}

func (d *Detector) storageDirs() []string {
	if d.StateDir != "" {
		return []string{d.StateDir}
	}
	dirs := make([]string, 0, len(vscodeAppDirs))
	for _, app := range vscodeAppDirs {
		dirs = append(dirs, vscodeStorageDir(d.Home, app))
	}
	return dirs
}

func vscodeStorageDir(home, appDir string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDir, "User", "workspaceStorage")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appDir, "User", "workspaceStorage")
	default:
		return filepath.Join(home, ".config", appDir, "User", "workspaceStorage")
	}
}

// focusedVSCode returns the head of history.entries from the workspace
// whose state database was written most recently.
func focusedVSCode(storageDir string) *candidate {
	entries, err := os.ReadDir(storageDir)
	if err != nil {
		return nil
	}

	var best *candidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dbPath := filepath.Join(storageDir, entry.Name(), "state.vscdb")
		info, err := os.Stat(dbPath)
		if err != nil {
			continue
		}
		if best != nil && !info.ModTime().After(best.at) {
			continue
		}
		resources, err := readHistoryEntries(dbPath)
		if err != nil || len(resources) == 0 {
			continue
		}
		doc := documentFromURI(resources[0])
		if doc == nil {
			continue
		}
		best = &candidate{doc: doc, at: info.ModTime()}
	}
	return best
}

// readHistoryEntries returns editor resource URIs from the history.entries
// key, most recent first.
func readHistoryEntries(dbPath string) ([]string, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer db.Close()

	var raw []byte
	err = db.QueryRow(`SELECT value FROM ItemTable WHERE key = 'history.entries'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query history.entries: %w", err)
	}

	var entries []struct {
		Editor struct {
			Resource string `json:"resource"`
		} `json:"editor"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse history.entries: %w", err)
	}

	resources := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Editor.Resource != "" {
			resources = append(resources, e.Editor.Resource)
		}
	}
	return resources, nil
}

// workspaceFolders reads the folder URI from every workspace.json.
func workspaceFolders(storageDir string) []string {
	entries, err := os.ReadDir(storageDir)
	if err != nil {
		return nil
	}

	var folders []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(storageDir, entry.Name(), "workspace.json"))
		if err != nil {
			continue
		}
		var ws struct {
			Folder string `json:"folder"`
		}
		if err := json.Unmarshal(data, &ws); err != nil || ws.Folder == "" {
			continue
		}
		if p, err := uriToPath(ws.Folder); err == nil && p != "" {
			folders = append(folders, p)
		}
	}
	return folders
}

// documentFromURI maps an editor resource URI to a Document. Only file and
// untitled resources count; anything else (settings, diff views) is nil.
func documentFromURI(rawURI string) *script.Document {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil
	}
	switch u.Scheme {
	case "file":
		p := u.Path
		if runtime.GOOS == "windows" {
			p = strings.TrimPrefix(filepath.FromSlash(p), `\`)
		}
		return script.NewDocument(p)
	case "untitled":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return &script.Document{
			Path:       path,
			LanguageID: script.LanguageIDFor(path),
			Untitled:   true,
		}
	}
	return nil
}

func uriToPath(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", nil
	}
	return u.Path, nil
}

// ── Vim ──────

// focusedVim returns the most recent file mark in viminfo.
func focusedVim(path, home string) *candidate {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	files, err := parseViminfo(path, home)
	if err != nil || len(files) == 0 {
		return nil
	}
	return &candidate{doc: script.NewDocument(files[0]), at: info.ModTime()}
}

func parseViminfo(path, home string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var files []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "> ") {
			continue
		}
		filePath := strings.TrimSpace(strings.TrimPrefix(line, "> "))
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(home, filePath[2:])
		}
		if filePath != "" && !seen[filePath] {
			seen[filePath] = true
			files = append(files, filePath)
		}
	}
	return files, scanner.Err()
}
