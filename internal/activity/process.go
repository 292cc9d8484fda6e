package activity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned by Start on a source that is running.
var ErrAlreadyStarted = errors.New("source already started")

// DefaultPollInterval matches the cadence of the desktop window detector.
const DefaultPollInterval = 2 * time.Second

// Window is the focused window as reported by the OS.
type Window struct {
	Process string
	Title   string
}

// Payload joins process and title so that rules can match either.
func (w Window) Payload() string {
	switch {
	case w.Title == "":
		return w.Process
	case w.Process == "":
		return w.Title
	}
	return w.Process + " | " + w.Title
}

func (w Window) empty() bool {
	return strings.TrimSpace(w.Process) == "" && strings.TrimSpace(w.Title) == ""
}

// WindowProber reads the currently focused window.
type WindowProber interface {
	ActiveWindow(ctx context.Context) (Window, error)
}

// ProberFunc adapts a function to WindowProber.
type ProberFunc func(ctx context.Context) (Window, error)

func (f ProberFunc) ActiveWindow(ctx context.Context) (Window, error) {
	return f(ctx)
}

// ProcessSource polls a WindowProber at a fixed interval and emits a
// KindProcess signal whenever the (process, title) pair differs from the
// previous emission. Probe failures skip the poll and are retried on the next
// one.
type ProcessSource struct {
	prober   WindowProber
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	last    Window
	hasLast bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewProcessSource creates a ProcessSource. If interval is <= 0, it defaults
// to DefaultPollInterval.
func NewProcessSource(prober WindowProber, interval time.Duration) *ProcessSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &ProcessSource{
		prober:   prober,
		interval: interval,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Start begins polling on a new goroutine.
func (s *ProcessSource) Start(ctx context.Context, emit Emit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, emit, s.done)
	return nil
}

func (s *ProcessSource) run(ctx context.Context, emit Emit, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.PollOnce(ctx, emit)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce probes the active window once and emits a signal if it changed.
// Returns true if a signal was emitted.
func (s *ProcessSource) PollOnce(ctx context.Context, emit Emit) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	w, err := s.prober.ActiveWindow(probeCtx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("active window unavailable", "error", err)
		}
		return false
	}
	if w.empty() {
		return false
	}

	s.mu.Lock()
	if s.hasLast && s.last == w {
		s.mu.Unlock()
		return false
	}
	s.last = w
	s.hasLast = true
	s.mu.Unlock()

	emit(Signal{Kind: KindProcess, Payload: w.Payload(), ObservedAt: s.now()})
	return true
}

// Reset forgets the last emitted window so the next poll emits again.
func (s *ProcessSource) Reset() {
	s.mu.Lock()
	s.hasLast = false
	s.last = Window{}
	s.mu.Unlock()
}

// Stop halts polling and waits for the poll goroutine to exit.
func (s *ProcessSource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
