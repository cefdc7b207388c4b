// Package watch provides pattern-scoped file system subscriptions rooted at
// a workspace folder.
package watch

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change a subscription reports.
type Op int

const (
	OpChange Op = iota + 1
	OpCreate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpChange:
		return "change"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Event describes one matching change.
type Event struct {
	Path string
	Op   Op
}

// Handler reacts to an event. Handlers run on the watcher's goroutine and
// must not call Dispose on the same watcher.
type Handler func(Event)

// Directories that are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

type options struct {
	ignore []string
	logger *slog.Logger
}

// Option configures a Watcher.
type Option func(*options)

// WithIgnorePatterns adds glob patterns (matched against base name, relative
// path and absolute path) for paths that never produce events.
func WithIgnorePatterns(patterns []string) Option {
	return func(o *options) { o.ignore = append(o.ignore, patterns...) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Watcher delivers change, create and delete events for files under root
// whose path matches pattern.
type Watcher struct {
	root    string
	pattern string
	ignore  []string
	logger  *slog.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu       sync.Mutex
	handlers map[Op][]Handler
	disposed bool
}

// New starts watching root recursively. Patterns follow glob syntax with a
// leading "**/" meaning "in any directory", e.g. "**/*.ts".
func New(root, pattern string, opts ...Option) (*Watcher, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     absRoot,
		pattern:  pattern,
		logger:   o.logger,
		fsw:      fsw,
		done:     make(chan struct{}),
		handlers: make(map[Op][]Handler),
	}

	// A malformed .gitignore only costs us its patterns.
	gitignore, err := readPatternFile(filepath.Join(absRoot, ".gitignore"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("reading .gitignore", "root", absRoot, "err", err)
	}
	w.ignore = append(append([]string{}, o.ignore...), gitignore...)

	if err := w.addTree(absRoot); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// OnDidChange registers h for modifications of matching files.
func (w *Watcher) OnDidChange(h Handler) { w.on(OpChange, h) }

// OnDidCreate registers h for newly created matching files.
func (w *Watcher) OnDidCreate(h Handler) { w.on(OpCreate, h) }

// OnDidDelete registers h for removed or renamed-away matching files.
func (w *Watcher) OnDidDelete(h Handler) { w.on(OpDelete, h) }

func (w *Watcher) on(op Op, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[op] = append(w.handlers[op], h)
}

// Dispose stops the watcher and waits for its goroutine to exit. After
// Dispose returns no handler will be called.
func (w *Watcher) Dispose() error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return nil
	}
	w.disposed = true
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}

// addTree adds root and every non-ignored directory beneath it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (skipDirs[d.Name()] || w.isIgnored(path)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			if path == root {
				return err
			}
			w.logger.Debug("watch add failed", "path", path, "err", err)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Notifier errors (e.g. queue overflow) are non-fatal.
			w.logger.Warn("file watcher error", "root", w.root, "pattern", w.pattern, "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !skipDirs[info.Name()] && !w.isIgnored(ev.Name) {
				_ = w.addTree(ev.Name)
			}
			return
		}
	case ev.Has(fsnotify.Write):
		op = OpChange
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	if w.isIgnored(ev.Name) || !w.matches(ev.Name) {
		return
	}

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	hs := append([]Handler(nil), w.handlers[op]...)
	w.mu.Unlock()

	e := Event{Path: ev.Name, Op: op}
	for _, h := range hs {
		h(e)
	}
}

func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return Match(w.pattern, rel)
}

// Group bundles several disposables behind one Dispose.
type Group struct {
	once  sync.Once
	items []interface{ Dispose() error }
	err   error
}

// NewGroup returns a Group disposing items in order.
func NewGroup(items ...interface{ Dispose() error }) *Group {
	return &Group{items: items}
}

// Dispose disposes every member once and joins their errors.
func (g *Group) Dispose() error {
	g.once.Do(func() {
		var errs []error
		for _, it := range g.items {
			if err := it.Dispose(); err != nil {
				errs = append(errs, err)
			}
		}
		g.err = errors.Join(errs...)
	})
	return g.err
}

// Len returns the number of members.
func (g *Group) Len() int { return len(g.items) }
