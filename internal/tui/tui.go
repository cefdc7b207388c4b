// Package tui provides the Bubble Tea log panel shown while tslive runs.
package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/tslive/internal/logsink"
	"github.com/fakeyudi/tslive/internal/notify"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Background(lipgloss.Color("62")).
			Bold(true)

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Background(lipgloss.Color("62"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Background(lipgloss.Color("235")).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// Controller is the subset of the host the panel drives.
type Controller interface {
	Restart() error
	Stop()
	ActiveFile() string
	Running() bool
	PID() int
}

// runState is a snapshot of the controller. It is taken inside commands,
// off the update loop, since the controller blocks while a child is being
// stopped.
type runState struct {
	file    string
	running bool
	pid     int
}

func snapshot(ctl Controller) runState {
	return runState{file: ctl.ActiveFile(), running: ctl.Running(), pid: ctl.PID()}
}

// logChangedMsg means the log buffer was mutated.
type logChangedMsg struct {
	state runState
}

// noteMsg carries one notification.
type noteMsg notify.Message

// stateMsg refreshes the running indicator after a control action.
type stateMsg runState

// Model is the root Bubble Tea model for the log panel.
type Model struct {
	ctl      Controller
	log      *logsink.Buffer
	notes    <-chan notify.Message
	viewport viewport.Model
	width    int
	height   int
	ready    bool
	note     *notify.Message
	state    runState
}

// New creates a panel over the given log buffer. Notifications are read
// from notes until it is closed.
func New(ctl Controller, log *logsink.Buffer, notes <-chan notify.Message) Model {
	return Model{ctl: ctl, log: log, notes: notes}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd {
	ctl := m.ctl
	return tea.Batch(
		func() tea.Msg { return stateMsg(snapshot(ctl)) },
		waitLog(m.ctl, m.log),
		waitNote(m.notes),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			ctl := m.ctl
			return m, func() tea.Msg {
				_ = ctl.Restart()
				return stateMsg(snapshot(ctl))
			}
		case "s":
			ctl := m.ctl
			return m, func() tea.Msg {
				ctl.Stop()
				return stateMsg(snapshot(ctl))
			}
		case "c":
			m.log.Clear()
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewport()
		return m, nil

	case logChangedMsg:
		next := waitLog(m.ctl, m.log)
		m.state = msg.state
		m.refresh()
		return m, next

	case noteMsg:
		n := notify.Message(msg)
		m.note = &n
		return m, waitNote(m.notes)

	case stateMsg:
		m.state = runState(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	// ── Row 1: title bar ──
	file := "(no file)"
	if m.state.file != "" {
		file = filepath.Base(m.state.file)
	}
	state := idleStyle.Render("○ idle")
	if m.state.running {
		state = runningStyle.Render(fmt.Sprintf("● running pid %d", m.state.pid))
	}
	title := titleStyle.Width(m.width).Render("  JS/TS Live  " + file + "  " + state)

	// ── Row 2…N-1: scrollable log ──
	content := m.viewport.View()

	// ── Row N: notification / hint bar ──
	hint := "  r restart  s stop  c clear  ↑/↓ scroll  q quit"
	if m.note != nil {
		style := infoStyle
		if m.note.Level == notify.LevelError {
			style = errorStyle
		}
		hint = style.Render("  "+m.note.Text) + "   " + strings.TrimSpace(hint)
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewport.ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + pct,
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, content, statusBar)
}

// ── Viewport management ──

func (m *Model) initViewport() {
	// title(1) + statusBar(1) = 2 fixed rows
	vpHeight := m.height - 2
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport = viewport.New(m.width, vpHeight)
	m.viewport.SetContent(m.log.String())
	m.viewport.GotoBottom()
}

// refresh reloads the log, following the tail unless the user scrolled up.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.log.String())
	if follow {
		m.viewport.GotoBottom()
	}
}

func waitLog(ctl Controller, b *logsink.Buffer) tea.Cmd {
	ch := b.Changed()
	return func() tea.Msg {
		<-ch
		return logChangedMsg{state: snapshot(ctl)}
	}
}

func waitNote(notes <-chan notify.Message) tea.Cmd {
	if notes == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-notes
		if !ok {
			return nil
		}
		return noteMsg(n)
	}
}

// Run shows the panel until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctl Controller, log *logsink.Buffer, notes <-chan notify.Message) error {
	p := tea.NewProgram(New(ctl, log, notes), tea.WithAltScreen())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-stop:
		}
	}()

	_, err := p.Run()
	return err
}
