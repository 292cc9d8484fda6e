package tracker

import (
	"fmt"
	"maps"
	"time"

	"github.com/kalambet/tlog/internal/activity"
	"github.com/kalambet/tlog/internal/rules"
	"github.com/kalambet/tlog/internal/session"
)

// Phase is the tracker's position in its run lifecycle.
type Phase int

const (
	// Idle means no run is in progress. A stopped run may still be held for
	// saving.
	Idle Phase = iota
	// Detecting means a run started but no signal has classified yet.
	Detecting
	// Active means a category is current and time accrues to it.
	Active
	// Paused means the latest signal did not classify; time does not accrue.
	Paused
)

var phaseNames = [...]string{"idle", "detecting", "active", "paused"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	for i, name := range phaseNames {
		if name == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(b))
}

// Snapshot is an immutable copy of the tracker state.
type Snapshot struct {
	Phase        Phase          `json:"phase"`
	Category     string         `json:"category,omitempty"`
	Running      bool           `json:"running"`
	Paused       bool           `json:"paused"`
	PauseReason  string         `json:"pause_reason,omitempty"`
	Manual       bool           `json:"manual"`
	Unsaved      bool           `json:"unsaved"`
	Accumulated  map[string]int `json:"accumulated"`
	Elapsed      int            `json:"elapsed"`
	Dominant     string         `json:"dominant,omitempty"`
	StartedAt    time.Time      `json:"started_at,omitzero"`
	StoppedAt    time.Time      `json:"stopped_at,omitzero"`
	LastSignalAt time.Time      `json:"last_signal_at,omitzero"`
}

// Run returns the snapshot in the form session.Finalize consumes.
func (s Snapshot) Run() session.Run {
	return session.Run{
		Accumulated: s.Accumulated,
		StartedAt:   s.StartedAt,
		StoppedAt:   s.StoppedAt,
		Manual:      s.Manual,
	}
}

// machine is the tracker state machine. It is not safe for concurrent use;
// the Tracker event loop is its only owner.
type machine struct {
	phase       Phase
	category    string
	pauseReason string
	manual      bool
	running     bool
	unsaved     bool

	acc     map[string]int
	elapsed int

	startedAt    time.Time
	stoppedAt    time.Time
	lastSignalAt time.Time

	rules *rules.RuleSet
	obs   rules.Observation
}

// start begins a new run. Accumulators are cleared and rs is captured for the
// whole run. In manual mode the run is pinned to manualCategory.
func (m *machine) start(rs *rules.RuleSet, manual bool, manualCategory string, now time.Time) {
	*m = machine{
		phase:     Detecting,
		running:   true,
		unsaved:   true,
		acc:       make(map[string]int),
		startedAt: now,
		rules:     rs,
		manual:    manual,
	}
	if manual {
		m.phase = Active
		m.category = manualCategory
	}
}

// signal applies one observation. It reports whether the current category or
// pause state changed.
func (m *machine) signal(sig activity.Signal) bool {
	if !m.running {
		return false
	}
	m.lastSignalAt = sig.ObservedAt
	if m.manual {
		return false
	}

	switch sig.Kind {
	case activity.KindProcess:
		s := sig
		m.obs.Process = &s
	case activity.KindBrowserTab:
		s := sig
		m.obs.Tab = &s
	default:
		return false
	}

	cat, ok := m.rules.Resolve(m.obs)
	if ok {
		if m.phase == Active && cat == m.category {
			return false
		}
		m.phase = Active
		m.category = cat
		m.pauseReason = ""
		return true
	}

	switch m.phase {
	case Active:
		m.phase = Paused
		m.category = ""
		m.pauseReason = sig.Payload
		return true
	case Paused:
		m.pauseReason = sig.Payload
	}
	return false
}

// tick accrues seconds to the current category. It reports whether anything
// accrued.
func (m *machine) tick(seconds int) bool {
	if !m.running || m.phase != Active || seconds <= 0 {
		return false
	}
	m.acc[m.category] += seconds
	m.elapsed += seconds
	return true
}

// stop freezes the run. Accumulators are kept until save or discard.
func (m *machine) stop(now time.Time) bool {
	if !m.running {
		return false
	}
	m.running = false
	m.phase = Idle
	m.stoppedAt = now
	m.obs = rules.Observation{}
	return true
}

// clear drops a stopped run.
func (m *machine) clear() {
	*m = machine{}
}

func (m *machine) snapshot() Snapshot {
	s := Snapshot{
		Phase:        m.phase,
		Category:     m.category,
		Running:      m.running,
		Paused:       m.phase == Paused,
		PauseReason:  m.pauseReason,
		Manual:       m.manual,
		Unsaved:      m.unsaved && !m.running,
		Accumulated:  make(map[string]int, len(m.acc)),
		Elapsed:      m.elapsed,
		StartedAt:    m.startedAt,
		StoppedAt:    m.stoppedAt,
		LastSignalAt: m.lastSignalAt,
	}
	maps.Copy(s.Accumulated, m.acc)
	s.Dominant = session.Dominant(session.Seconds(m.acc))
	return s
}
