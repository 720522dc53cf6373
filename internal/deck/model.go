// Package deck is a terminal driving loop over a task registry. Every frame
// polls each tracked task once and renders its progress.
package deck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"taskdeck/internal/task"
)

const (
	MinSeconds = 1
	MaxSeconds = 10

	defaultFrame = 100 * time.Millisecond
	barWidth     = 40
)

var (
	brandPrimary = lipgloss.Color("#7C3AED")
	brandAccent  = lipgloss.Color("#10B981")
	brandError   = lipgloss.Color("#EF4444")
	textMuted    = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Foreground(brandPrimary).
			Bold(true).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(brandPrimary).
			Bold(true)

	pausedStyle = lipgloss.NewStyle().
			Foreground(textMuted).
			Italic(true)

	okStyle = lipgloss.NewStyle().
		Foreground(brandAccent)

	errorStyle = lipgloss.NewStyle().
			Foreground(brandError).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(textMuted)
)

// Options configures a deck.
type Options struct {
	// Seconds is the initial duration for new tasks, clamped to [1, 10].
	Seconds     int
	Frame       time.Duration
	TimerPolicy task.TimerPolicy
	// Context parents every timer the deck starts.
	Context context.Context
}

type row struct {
	id      task.ID
	seconds int
	outcome task.Outcome
}

// frameMsg drives one poll of every tracked task.
type frameMsg time.Time

// Model is the bubbletea model of the deck.
type Model struct {
	reg     *task.Registry
	opts    Options
	session string

	rows    []row
	cursor  int
	seconds int
	bar     progress.Model

	status string
	err    error
}

func New(reg *task.Registry, opts Options) Model {
	if opts.Frame <= 0 {
		opts.Frame = defaultFrame
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return Model{
		reg:     reg,
		opts:    opts,
		session: uuid.NewString(),
		seconds: clampSeconds(opts.Seconds),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
	}
}

func (m Model) Init() tea.Cmd {
	log.Info().Str("session", m.session).Msg("deck started")
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Frame, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		w := msg.Width - 30
		if w < 10 {
			w = 10
		}
		if w > 80 {
			w = 80
		}
		m.bar.Width = w
		return m, nil

	case frameMsg:
		m.frame()
		return m, m.tick()
	}
	return m, nil
}

// frame polls every row once, dropping finished tasks from both the deck and
// the registry.
func (m *Model) frame() {
	kept := make([]row, 0, len(m.rows))
	for _, r := range m.rows {
		out, err := m.reg.Poll(r.id)
		if errors.Is(err, task.ErrNotFound) {
			// removed under the delete policy
			log.Debug().Uint64("task_id", uint64(r.id)).Msg("task removed")
			continue
		}
		if err != nil {
			m.fail(fmt.Errorf("poll task %d: %w", r.id, err))
			_ = m.reg.Delete(r.id)
			continue
		}
		if out.Terminal() {
			log.Debug().Uint64("task_id", uint64(r.id)).Str("outcome", string(out.Kind)).Msg("task finished")
			_ = m.reg.Delete(r.id)
			continue
		}
		r.outcome = out
		kept = append(kept, r)
	}
	m.rows = kept
	m.clampCursor()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		log.Info().Str("session", m.session).Msg("deck quit")
		return m, tea.Quit
	case "a":
		m.add()
	case "+", "=":
		m.seconds = clampSeconds(m.seconds + 1)
	case "-":
		m.seconds = clampSeconds(m.seconds - 1)
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case "p":
		m.apply("pause", m.reg.Pause)
	case "r":
		m.apply("resume", m.reg.Resume)
	case "c":
		m.apply("cancel", m.reg.Remove)
	case "x":
		m.cancelAll()
	}
	return m, nil
}

func (m *Model) add() {
	tk := task.NewTimedTask(time.Duration(m.seconds)*time.Second,
		task.WithTimerPolicy(m.opts.TimerPolicy),
		task.WithContext(m.opts.Context),
		task.WithLabel(m.session),
	)
	id, err := m.reg.Register(tk)
	if err != nil {
		m.fail(fmt.Errorf("add task: %w", err))
		return
	}
	m.rows = append(m.rows, row{id: id, seconds: m.seconds, outcome: task.Pending(0)})
	m.ok(fmt.Sprintf("added task %d (%ds)", id, m.seconds))
}

func (m *Model) apply(op string, fn func(task.ID) error) {
	if len(m.rows) == 0 {
		return
	}
	id := m.rows[m.cursor].id
	if err := fn(id); err != nil {
		m.fail(fmt.Errorf("%s task %d: %w", op, id, err))
		return
	}
	m.ok(fmt.Sprintf("%s task %d", op, id))
}

func (m *Model) cancelAll() {
	n := 0
	for _, r := range m.rows {
		if err := m.reg.Remove(r.id); err == nil {
			n++
		}
	}
	m.ok(fmt.Sprintf("cancelled %d tasks", n))
}

func (m *Model) ok(status string) {
	m.status, m.err = status, nil
	log.Debug().Str("session", m.session).Msg(status)
}

func (m *Model) fail(err error) {
	m.status, m.err = "", err
	log.Warn().Str("session", m.session).Err(err).Msg("deck action failed")
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("taskdeck"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("session %s · new tasks run %ds", m.session[:8], m.seconds)))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(dimStyle.Render("no tasks, press a to add one"))
		b.WriteString("\n")
	}
	for i, r := range m.rows {
		cursor := "  "
		label := fmt.Sprintf("Task %d (%ds)", r.id, r.seconds)
		if i == m.cursor {
			cursor = "> "
			label = selectedStyle.Render(label)
		}
		state := fmt.Sprintf("%3.0f%%", r.outcome.Progress*100)
		if r.outcome.Kind == task.OutcomePaused {
			state = pausedStyle.Render("paused " + state)
		}
		fmt.Fprintf(&b, "%s%s  %s  %s\n", cursor, label, m.bar.ViewAs(r.outcome.Progress), state)
	}

	b.WriteString("\n")
	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.err.Error()))
	case m.status != "":
		b.WriteString(okStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("a add · +/- seconds · ↑/↓ select · p pause · r resume · c cancel · x cancel all · q quit"))
	b.WriteString("\n")
	return b.String()
}

func clampSeconds(s int) int {
	if s < MinSeconds {
		return MinSeconds
	}
	if s > MaxSeconds {
		return MaxSeconds
	}
	return s
}
