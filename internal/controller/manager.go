package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/tlog/internal/activity"
)

const DefaultMinPlayers = 2

// Setup names one hardware controller.
type Setup struct {
	Port     string
	BaudRate int
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Controllers []Setup
	// MinPlayers pads the set with keyboard-only controllers.
	MinPlayers int
	Keyboard   *Keyboard
	Open       Opener
}

// Manager owns every player's Controller.
type Manager struct {
	controllers []*Controller
}

// NewManager opens the configured controllers and pads the set with
// keyboard-only controllers up to MinPlayers.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = DefaultMinPlayers
	}
	m := &Manager{}
	for _, s := range cfg.Controllers {
		player := len(m.controllers)
		m.controllers = append(m.controllers, New(player, Config{
			Port:     s.Port,
			BaudRate: s.BaudRate,
			Open:     cfg.Open,
			Keyboard: cfg.Keyboard,
			Keys:     KeyMapFor(player),
		}))
	}
	for len(m.controllers) < cfg.MinPlayers {
		player := len(m.controllers)
		m.controllers = append(m.controllers, New(player, Config{
			Keyboard: cfg.Keyboard,
			Keys:     KeyMapFor(player),
		}))
	}
	return m
}

// Controller returns the controller for player, or nil if out of range.
func (m *Manager) Controller(player int) *Controller {
	if player < 0 || player >= len(m.controllers) {
		slog.Warn("controller index out of range", "player", player, "players", len(m.controllers))
		return nil
	}
	return m.controllers[player]
}

// Len returns the number of players.
func (m *Manager) Len() int { return len(m.controllers) }

// Update refreshes every controller.
func (m *Manager) Update() {
	for _, c := range m.controllers {
		c.Update()
	}
}

// Close closes every controller.
func (m *Manager) Close() error {
	var errs []error
	for _, c := range m.controllers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("player %d: %w", c.Player(), err))
		}
	}
	return errors.Join(errs...)
}

// Poller samples one controller at a fixed interval and emits
// KindHardwareInput signals for button presses and encoder movement.
type Poller struct {
	ctrl     *Controller
	interval time.Duration

	// OnPress, if set, is called on every rising edge of the button.
	OnPress func()

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller for c.
func NewPoller(c *Controller, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Poller{ctrl: c, interval: interval}
}

// Start begins polling on a new goroutine.
func (p *Poller) Start(ctx context.Context, emit activity.Emit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return activity.ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, emit, p.done)
	return nil
}

func (p *Poller) run(ctx context.Context, emit activity.Emit, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var wasPressed bool
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			wasPressed = p.Step(now, wasPressed, emit)
		}
	}
}

// Step updates the controller once and emits what changed. It returns the
// current button state for the next call.
func (p *Poller) Step(now time.Time, wasPressed bool, emit activity.Emit) bool {
	c := p.ctrl
	c.Update()
	pressed := c.ButtonPressed()

	if pressed && !wasPressed {
		emit(activity.Signal{Kind: activity.KindHardwareInput, Payload: fmt.Sprintf("p%d:button", c.Player()), ObservedAt: now})
		if p.OnPress != nil {
			p.OnPress()
		}
	}
	if d := c.EncoderDelta(); d != 0 {
		emit(activity.Signal{Kind: activity.KindHardwareInput, Payload: fmt.Sprintf("p%d:encoder:%+d", c.Player(), d), ObservedAt: now})
	}
	return pressed
}

// Stop halts polling. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
