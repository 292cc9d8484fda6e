package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/tlog/internal/controller"
)

// DefaultMonitorInterval is how often the monitor samples the controllers.
const DefaultMonitorInterval = 50 * time.Millisecond

type monitorKeys struct {
	Quit key.Binding
}

func (k monitorKeys) ShortHelp() []key.Binding { return []key.Binding{k.Quit} }

func (k monitorKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

// playerState accumulates what the monitor has seen for one player.
type playerState struct {
	port      string
	hardware  bool
	button    bool
	presses   int
	position  int64
	lastDelta int64
}

// MonitorModel shows live button and encoder state for every controller.
// Key presses are forwarded to the keyboard so players without hardware can
// be exercised.
type MonitorModel struct {
	mgr      *controller.Manager
	keyboard *controller.Keyboard
	interval time.Duration
	keys     monitorKeys
	help     help.Model

	players []playerState
}

// NewMonitorModel creates a monitor for mgr. kb should be the keyboard the
// manager's controllers read from.
func NewMonitorModel(mgr *controller.Manager, kb *controller.Keyboard, interval time.Duration) MonitorModel {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return MonitorModel{
		mgr:      mgr,
		keyboard: kb,
		interval: interval,
		keys: monitorKeys{
			Quit: key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
		},
		help:    help.New(),
		players: make([]playerState, mgr.Len()),
	}
}

type sampleMsg time.Time

func (m MonitorModel) sampleCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return sampleMsg(t)
	})
}

// Init implements tea.Model
func (m MonitorModel) Init() tea.Cmd {
	return m.sampleCmd()
}

// Update implements tea.Model
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		for _, b := range keyBytes(msg) {
			m.keyboard.Press(b)
		}

	case sampleMsg:
		m = m.sample()
		return m, m.sampleCmd()
	}
	return m, nil
}

// sample updates every controller once and folds the result into players.
func (m MonitorModel) sample() MonitorModel {
	m.mgr.Update()
	players := make([]playerState, len(m.players))
	copy(players, m.players)
	for i := range players {
		c := m.mgr.Controller(i)
		if c == nil {
			continue
		}
		p := &players[i]
		pressed := c.ButtonPressed()
		if pressed && !p.button {
			p.presses++
		}
		p.button = pressed
		p.port = c.PortName()
		p.hardware = c.HardwareConnected()
		if d := c.EncoderDelta(); d != 0 {
			p.lastDelta = d
			p.position += d
		}
	}
	m.players = players
	return m
}

// keyBytes maps a key message to the bytes a raw terminal would have sent.
func keyBytes(msg tea.KeyMsg) []byte {
	switch msg.Type {
	case tea.KeySpace:
		return []byte{' '}
	case tea.KeyEnter:
		return []byte{'\r'}
	case tea.KeyRunes:
		var out []byte
		for _, r := range msg.Runes {
			if r < 0x80 {
				out = append(out, byte(r))
			}
		}
		return out
	}
	return nil
}

// View implements tea.Model
func (m MonitorModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tlog controller monitor"))
	b.WriteString("\n\n")

	panels := make([]string, len(m.players))
	for i, p := range m.players {
		source := "keyboard"
		if p.hardware {
			source = p.port
		} else if p.port != "" {
			source = "keyboard (" + p.port + " unavailable)"
		}

		var pb strings.Builder
		pb.WriteString(valueStyle.Render(fmt.Sprintf("Player %d", i+1)))
		pb.WriteString("\n")
		pb.WriteString(row("Input", source))
		pb.WriteString(row("Button", indicator(p.button)+fmt.Sprintf("  %d presses", p.presses)))
		pb.WriteString(row("Encoder", fmt.Sprintf("%d (last %+d)", p.position, p.lastDelta)))
		panels[i] = panelStyle.Render(strings.TrimRight(pb.String(), "\n"))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("player 1: space/e   player 2: enter/\\"))
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}
