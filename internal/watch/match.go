package watch

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Match reports whether rel, a slash- or OS-separated path relative to the
// watch root, matches pattern. A leading "**/" matches any number of
// directories, including none.
func Match(pattern, rel string) bool {
	rel = filepath.ToSlash(rel)
	pattern = filepath.ToSlash(pattern)

	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		parts := strings.Split(rel, "/")
		for i := range parts {
			if ok, _ := filepath.Match(rest, strings.Join(parts[i:], "/")); ok {
				return true
			}
		}
		return false
	}
	ok, _ := filepath.Match(pattern, rel)
	return ok
}

// isIgnored reports whether path matches any ignore pattern by base name,
// root-relative path or absolute path.
func (w *Watcher) isIgnored(path string) bool {
	rel := path
	if r, err := filepath.Rel(w.root, path); err == nil {
		rel = r
	}
	base := filepath.Base(path)

	for _, pattern := range w.ignore {
		pattern = strings.TrimSuffix(pattern, "/")
		if pattern == "" {
			continue
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

// readPatternFile reads a gitignore-style file and returns its non-empty,
// non-comment, non-negated lines.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, strings.TrimPrefix(line, "/"))
	}
	return patterns, scanner.Err()
}
