package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kalambet/tlog/internal/controller"
	"github.com/kalambet/tlog/internal/tracker"
)

func TestWatch_AppliesSnapshotEvents(t *testing.T) {
	m := NewWatchModel(WatchOptions{})
	snap := tracker.Snapshot{
		Phase:       tracker.Active,
		Category:    "Programming",
		Running:     true,
		Accumulated: map[string]int{"Programming": 5},
		Elapsed:     5,
	}

	updated, _ := m.Update(eventMsg(tracker.Event{Type: tracker.EventCategoryChanged, Snapshot: &snap}))
	model := updated.(WatchModel)
	if model.snap.Category != "Programming" || model.snap.Elapsed != 5 {
		t.Fatalf("snapshot not applied: %+v", model.snap)
	}
	if model.lastEvent != tracker.EventCategoryChanged {
		t.Errorf("lastEvent = %q", model.lastEvent)
	}
}

func TestWatch_TicksAccrueIncrementally(t *testing.T) {
	m := NewWatchModel(WatchOptions{})
	m.snap = tracker.Snapshot{
		Phase:       tracker.Active,
		Category:    "LLM",
		Running:     true,
		Accumulated: map[string]int{"LLM": 2},
		Elapsed:     2,
	}

	updated, _ := m.Update(eventMsg(tracker.Event{Type: tracker.EventTick, Category: "LLM", Total: 3, Accrued: true}))
	model := updated.(WatchModel)
	if model.snap.Accumulated["LLM"] != 3 || model.snap.Elapsed != 3 {
		t.Fatalf("tick not applied: %+v", model.snap)
	}
	if model.snap.Dominant != "LLM" {
		t.Errorf("Dominant = %q, want LLM", model.snap.Dominant)
	}

	// A paused tick changes nothing but the pause flag.
	updated, _ = model.Update(eventMsg(tracker.Event{Type: tracker.EventTick, Total: 3, Paused: true}))
	model = updated.(WatchModel)
	if model.snap.Accumulated["LLM"] != 3 || !model.snap.Paused {
		t.Fatalf("paused tick: %+v", model.snap)
	}
}

func TestWatch_SavedClearsView(t *testing.T) {
	m := NewWatchModel(WatchOptions{})
	m.snap = tracker.Snapshot{Unsaved: true, Accumulated: map[string]int{"Blog": 9}, Elapsed: 9}

	updated, _ := m.Update(eventMsg(tracker.Event{Type: tracker.EventSaved, SessionID: "abc"}))
	model := updated.(WatchModel)
	if model.snap.Unsaved || len(model.snap.Accumulated) != 0 {
		t.Fatalf("view not cleared: %+v", model.snap)
	}
}

func TestWatch_StreamClosed(t *testing.T) {
	events := make(chan tracker.Event)
	m := NewWatchModel(WatchOptions{Events: events})
	if !m.following {
		t.Fatal("expected to follow events")
	}
	updated, _ := m.Update(streamClosedMsg{})
	model := updated.(WatchModel)
	if model.following {
		t.Fatal("still following after stream closed")
	}
	if !strings.Contains(model.View(), "event stream closed") {
		t.Error("view does not mention the closed stream")
	}
}

func TestWatch_QuitKey(t *testing.T) {
	m := NewWatchModel(WatchOptions{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestWatch_ViewShowsCategories(t *testing.T) {
	m := NewWatchModel(WatchOptions{})
	m.snap = tracker.Snapshot{
		Phase:       tracker.Active,
		Category:    "Programming",
		Running:     true,
		Accumulated: map[string]int{"Programming": 90, "LLM": 30},
		Elapsed:     120,
	}
	view := m.View()
	for _, want := range []string{"Programming", "LLM", "2m", "1m 30s"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestRenderBars_Empty(t *testing.T) {
	if got := renderBars(nil, 30); got != "" {
		t.Errorf("renderBars(nil) = %q, want empty", got)
	}
}

func TestMonitor_KeyboardInput(t *testing.T) {
	kb := controller.NewKeyboard()
	mgr := controller.NewManager(controller.ManagerConfig{Keyboard: kb})
	defer mgr.Close()

	m := NewMonitorModel(mgr, kb, time.Millisecond)
	if len(m.players) != controller.DefaultMinPlayers {
		t.Fatalf("players = %d, want %d", len(m.players), controller.DefaultMinPlayers)
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'e'}})
	updated, _ = updated.Update(tea.KeyMsg{Type: tea.KeyEnter})
	updated, _ = updated.Update(sampleMsg(time.Now()))
	model := updated.(MonitorModel)

	p0, p1 := model.players[0], model.players[1]
	if !p0.button || p0.presses != 1 || p0.position != 1 {
		t.Errorf("player 1 = %+v", p0)
	}
	if !p1.button || p1.presses != 1 || p1.position != 1 {
		t.Errorf("player 2 = %+v", p1)
	}
	if !strings.Contains(model.View(), "Player 2") {
		t.Error("view missing player 2")
	}
}

func TestKeyBytes(t *testing.T) {
	tests := []struct {
		msg  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeySpace}, " "},
		{tea.KeyMsg{Type: tea.KeyEnter}, "\r"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'e', '\\'}}, "e\\"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'é'}}, ""},
		{tea.KeyMsg{Type: tea.KeyUp}, ""},
	}
	for _, tt := range tests {
		if got := string(keyBytes(tt.msg)); got != tt.want {
			t.Errorf("keyBytes(%v) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}
