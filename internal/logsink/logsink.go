// Package logsink provides the text stream a run's output is written to.
package logsink

import (
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

// Sink is an append-only, clearable text log.
// Implementations must be safe for concurrent use: stdout and stderr of a
// child process are appended from different goroutines.
type Sink interface {
	Clear()
	Show()
	Append(text string)
	AppendLine(text string)
	Dispose()
}

// Buffer keeps the log in memory. Every mutation wakes anyone waiting in
// Changed.
type Buffer struct {
	mu       sync.Mutex
	sb       strings.Builder
	shown    bool
	disposed bool
	changed  chan struct{}
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{changed: make(chan struct{})}
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.Reset()
	b.bumpLocked()
}

func (b *Buffer) Show() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shown = true
	b.bumpLocked()
}

func (b *Buffer) Append(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.sb.WriteString(text)
	b.bumpLocked()
}

func (b *Buffer) AppendLine(text string) {
	b.Append(text + "\n")
}

// Dispose freezes the buffer; later appends are dropped.
func (b *Buffer) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.disposed = true
	b.bumpLocked()
}

// String returns the current contents.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

// Shown reports whether Show has been called.
func (b *Buffer) Shown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shown
}

// Disposed reports whether Dispose has been called.
func (b *Buffer) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

// Changed returns a channel that is closed on the next mutation.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

func (b *Buffer) bumpLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

var ruleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

// Terminal streams the log to a writer, typically stdout.
type Terminal struct {
	mu       sync.Mutex
	w        io.Writer
	tty      bool
	disposed bool
}

// NewTerminal returns a Terminal sink writing to w. When w is a terminal,
// Clear erases the screen; otherwise it prints a separator rule.
func NewTerminal(w io.Writer) *Terminal {
	t := &Terminal{w: w}
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		t.tty = term.IsTerminal(f.Fd())
	}
	return t
}

func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	if t.tty {
		io.WriteString(t.w, "\x1b[2J\x1b[H")
		return
	}
	io.WriteString(t.w, ruleStyle.Render(strings.Repeat("─", 60))+"\n")
}

// Show is a no-op: a terminal stream is always visible.
func (t *Terminal) Show() {}

func (t *Terminal) Append(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	io.WriteString(t.w, text)
}

func (t *Terminal) AppendLine(text string) {
	t.Append(text + "\n")
}

func (t *Terminal) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disposed = true
}

var (
	_ Sink = (*Buffer)(nil)
	_ Sink = (*Terminal)(nil)
)
