// Package notify delivers short, transient messages to the user.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Notifier shows informational and error messages.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

var (
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Terminal prints messages as styled lines, usually to stderr.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Info(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, infoStyle.Render("ℹ")+" "+msg)
}

func (t *Terminal) Error(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, errorStyle.Render("✗")+" "+msg)
}

// Level distinguishes recorded messages.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Message is one recorded notification.
type Message struct {
	Level Level
	Text  string
}

// Recorder keeps every notification in order.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Info(msg string)  { r.add(LevelInfo, msg) }
func (r *Recorder) Error(msg string) { r.add(LevelError, msg) }

func (r *Recorder) add(l Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Level: l, Text: msg})
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Errors returns only the error texts.
func (r *Recorder) Errors() []string {
	var out []string
	for _, m := range r.Messages() {
		if m.Level == LevelError {
			out = append(out, m.Text)
		}
	}
	return out
}

// Func adapts a plain function to Notifier.
type Func func(level Level, msg string)

func (f Func) Info(msg string)  { f(LevelInfo, msg) }
func (f Func) Error(msg string) { f(LevelError, msg) }

var (
	_ Notifier = (*Terminal)(nil)
	_ Notifier = (*Recorder)(nil)
	_ Notifier = Func(nil)
)
