// Package tui holds the terminal views: the live tracker view and the
// controller monitor.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/tlog/internal/session"
	"github.com/kalambet/tlog/internal/tracker"
)

const requestTimeout = 5 * time.Second

// WatchOptions wires the live view to a running daemon.
type WatchOptions struct {
	// Events delivers tracker events. The view stops following once it is
	// closed.
	Events <-chan tracker.Event
	Status func(ctx context.Context) (tracker.Snapshot, error)
	// Toggle starts or stops tracking.
	Toggle func(ctx context.Context) (tracker.Snapshot, error)
}

type watchKeys struct {
	Toggle  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

func (k watchKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Refresh, k.Quit}
}

func (k watchKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultWatchKeys() watchKeys {
	return watchKeys{
		Toggle:  key.NewBinding(key.WithKeys("t", " "), key.WithHelp("t/space", "start/stop")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// WatchModel renders the tracker state and follows its event stream.
type WatchModel struct {
	opts WatchOptions
	keys watchKeys
	help help.Model

	snap      tracker.Snapshot
	lastEvent tracker.EventType
	following bool
	err       error

	width int
}

// NewWatchModel creates the live view.
func NewWatchModel(opts WatchOptions) WatchModel {
	return WatchModel{
		opts:      opts,
		keys:      defaultWatchKeys(),
		help:      help.New(),
		following: opts.Events != nil,
	}
}

// Message types
type (
	snapshotMsg     tracker.Snapshot
	eventMsg        tracker.Event
	streamClosedMsg struct{}
	errMsg          struct{ error }
)

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.fetchStatusCmd(), m.waitForEventCmd())
}

func (m WatchModel) fetchStatusCmd() tea.Cmd {
	if m.opts.Status == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		snap, err := m.opts.Status(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

func (m WatchModel) toggleCmd() tea.Cmd {
	if m.opts.Toggle == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		snap, err := m.opts.Toggle(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

// waitForEventCmd returns a command that waits for the next tracker event.
func (m WatchModel) waitForEventCmd() tea.Cmd {
	if m.opts.Events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-m.opts.Events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			return m, m.toggleCmd()
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetchStatusCmd()
		}

	case snapshotMsg:
		m.snap = tracker.Snapshot(msg)
		m.err = nil

	case eventMsg:
		m = m.applyEvent(tracker.Event(msg))
		return m, m.waitForEventCmd()

	case streamClosedMsg:
		m.following = false

	case errMsg:
		m.err = msg.error
	}
	return m, nil
}

// applyEvent folds an event into the displayed snapshot. Events that carry
// a full snapshot replace it; ticks are applied incrementally.
func (m WatchModel) applyEvent(ev tracker.Event) WatchModel {
	m.lastEvent = ev.Type
	if ev.Snapshot != nil {
		m.snap = *ev.Snapshot
		return m
	}

	switch ev.Type {
	case tracker.EventTick:
		if ev.Accrued && ev.Category != "" {
			acc := make(map[string]int, len(m.snap.Accumulated)+1)
			for k, v := range m.snap.Accumulated {
				acc[k] = v
			}
			if d := ev.Total - m.snap.Elapsed; d > 0 {
				acc[ev.Category] += d
			}
			m.snap.Accumulated = acc
		}
		m.snap.Elapsed = ev.Total
		m.snap.Category = ev.Category
		m.snap.Paused = ev.Paused
		m.snap.Dominant = session.Dominant(session.Seconds(m.snap.Accumulated))
	case tracker.EventSaved, tracker.EventDiscarded:
		m.snap = tracker.Snapshot{}
	}
	return m
}

// View implements tea.Model
func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("tlog"))
	b.WriteString("  ")
	b.WriteString(phaseStyle(m.snap.Phase.String()).Render(m.snap.Phase.String()))
	if m.snap.Manual {
		b.WriteString(" ")
		b.WriteString(mutedStyle.Render("manual"))
	}
	b.WriteString("\n\n")

	category := m.snap.Category
	switch {
	case m.snap.Paused && m.snap.PauseReason != "":
		category = "paused: " + truncate(m.snap.PauseReason, 48)
	case category == "":
		category = "-"
	}
	b.WriteString(row("Category", category))
	b.WriteString(row("Elapsed", session.FormatDuration(time.Duration(m.snap.Elapsed)*time.Second)))
	if m.snap.Dominant != "" {
		b.WriteString(row("Dominant", m.snap.Dominant))
	}
	if m.snap.Unsaved {
		b.WriteString(row("Unsaved", "stopped run waiting to be saved"))
	}
	b.WriteString("\n")

	if bars := renderBars(m.snap.Accumulated, m.barWidth()); bars != "" {
		b.WriteString(panelStyle.Render(bars))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	if !m.following {
		b.WriteString(mutedStyle.Render("event stream closed"))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m WatchModel) barWidth() int {
	if m.width <= 0 {
		return 30
	}
	return max(10, min(50, m.width-40))
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
}

// renderBars draws one proportional bar per category, largest first.
func renderBars(acc map[string]int, width int) string {
	sorted := session.Sorted(session.Seconds(acc))
	if len(sorted) == 0 {
		return ""
	}
	top := sorted[0].Duration
	lines := make([]string, 0, len(sorted))
	for _, ct := range sorted {
		n := 0
		if top > 0 {
			n = int(int64(width) * int64(ct.Duration) / int64(top))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			categoryStyle.Render(truncate(ct.Category, 15)),
			barStyle.Render(strings.Repeat("█", max(n, 1))),
			" ",
			mutedStyle.Render(session.FormatDuration(ct.Duration)),
		))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
