// Package tracker owns the active-context state machine and the event loop
// that feeds it signals, control commands and clock ticks.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/tlog/internal/activity"
	"github.com/kalambet/tlog/internal/rules"
	"github.com/kalambet/tlog/internal/session"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("tracking already running")
	// ErrNotStopped is returned by Save and Discard while a run is in progress.
	ErrNotStopped = errors.New("tracking must be stopped first")
	// ErrNothingToSave is returned by Save and Discard when no stopped run is held.
	ErrNothingToSave = errors.New("no stopped session to save")
	// ErrClosed is returned once the event loop has exited.
	ErrClosed = errors.New("tracker is not running")
)

const (
	DefaultTick           = time.Second
	DefaultManualCategory = "Manual"
	inboxSize             = 256
)

// Options configures a Tracker.
type Options struct {
	// Rules returns the rule set to capture when a run starts.
	Rules func() *rules.RuleSet
	// Sink receives saved sessions.
	Sink session.Sink
	// Tick is the accrual period. Values under one second are rounded up.
	Tick time.Duration
	// Ticks overrides the internal ticker. A channel that never fires
	// combined with Tracker.Tick gives callers full control of the clock.
	Ticks <-chan time.Time
	// ManualCategory is the category pinned in manual mode.
	ManualCategory string
	// OnStart is called after a run starts, outside the event loop. Sources
	// use it to replay their current observation.
	OnStart func()
	Now     func() time.Time
	Logger  *slog.Logger
}

// StartOptions are captured once when a run starts.
type StartOptions struct {
	Manual bool `json:"manual"`
}

// Tracker serializes all state changes through a single goroutine started
// by Run. Every other method is safe for concurrent use.
type Tracker struct {
	opts        Options
	tickSeconds int
	logger      *slog.Logger

	inbox chan message
	done  chan struct{}

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// New creates a Tracker. Call Run to start its event loop.
func New(opts Options) *Tracker {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.ManualCategory == "" {
		opts.ManualCategory = DefaultManualCategory
	}
	if opts.Rules == nil {
		opts.Rules = rules.Empty
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	secs := int((opts.Tick + time.Second - 1) / time.Second)
	return &Tracker{
		opts:        opts,
		tickSeconds: secs,
		logger:      opts.Logger,
		inbox:       make(chan message, inboxSize),
		done:        make(chan struct{}),
		subs:        make(map[int]chan Event),
	}
}

type messageKind int

const (
	msgSignal messageKind = iota
	msgStart
	msgStop
	msgSave
	msgDiscard
	msgSnapshot
	msgTick
	msgToggle
)

type message struct {
	kind    messageKind
	ctx     context.Context
	signal  activity.Signal
	start   StartOptions
	label   string
	summary string
	reply   chan reply
}

type reply struct {
	snap    Snapshot
	record  session.Record
	err     error
	started bool
}

// Run owns the tracker state until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.done)

	ticks := t.opts.Ticks
	if ticks == nil {
		ticker := time.NewTicker(t.opts.Tick)
		defer ticker.Stop()
		ticks = ticker.C
	}

	var m machine
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-t.inbox:
			t.handle(&m, msg)
		case <-ticks:
			// Signals that arrived before this tick are applied first so
			// accrual uses the category they establish.
			for n := len(t.inbox); n > 0; n-- {
				t.handle(&m, <-t.inbox)
			}
			t.accrue(&m)
		}
	}
}

func (t *Tracker) handle(m *machine, msg message) {
	var r reply
	switch msg.kind {
	case msgSignal:
		if m.signal(msg.signal) {
			s := m.snapshot()
			t.publish(Event{Type: EventCategoryChanged, Category: s.Category, Paused: s.Paused, Reason: s.PauseReason, Snapshot: &s})
			t.logger.Debug("category changed", "category", s.Category, "paused", s.Paused, "reason", s.PauseReason)
		}
		return

	case msgTick:
		t.accrue(m)
		r.snap = m.snapshot()

	case msgStart:
		if m.running {
			r.err = ErrAlreadyRunning
			break
		}
		r = t.start(m, msg.start)

	case msgStop:
		r = t.stop(m)

	case msgToggle:
		if m.running {
			r = t.stop(m)
		} else {
			r = t.start(m, msg.start)
		}

	case msgSave:
		r.record, r.err = t.save(m, msg)
		r.snap = m.snapshot()

	case msgDiscard:
		switch {
		case m.running:
			r.err = ErrNotStopped
		case !m.unsaved:
			r.err = ErrNothingToSave
		default:
			m.clear()
			t.publish(Event{Type: EventDiscarded})
			t.logger.Info("session discarded")
		}
		r.snap = m.snapshot()

	case msgSnapshot:
		r.snap = m.snapshot()
	}

	msg.reply <- r
}

func (t *Tracker) start(m *machine, opts StartOptions) reply {
	if m.unsaved {
		t.logger.Warn("dropping unsaved session", "elapsed", m.elapsed)
	}
	m.start(t.opts.Rules(), opts.Manual, t.opts.ManualCategory, t.opts.Now())
	r := reply{snap: m.snapshot(), started: true}
	t.publish(Event{Type: EventStarted, Category: r.snap.Category, Snapshot: &r.snap})
	t.logger.Info("tracking started", "manual", opts.Manual, "rules", m.rules.Len())
	return r
}

// stop is a no-op on an idle machine.
func (t *Tracker) stop(m *machine) reply {
	if m.stop(t.opts.Now()) {
		r := reply{snap: m.snapshot()}
		t.publish(Event{Type: EventStopped, Total: r.snap.Elapsed, Snapshot: &r.snap})
		t.logger.Info("tracking stopped", "elapsed", r.snap.Elapsed)
		return r
	}
	return reply{snap: m.snapshot()}
}

func (t *Tracker) save(m *machine, msg message) (session.Record, error) {
	if m.running {
		return session.Record{}, ErrNotStopped
	}
	if !m.unsaved {
		return session.Record{}, ErrNothingToSave
	}

	rec, err := session.Finalize(m.snapshot().Run(), msg.label, msg.summary)
	if err != nil {
		return session.Record{}, err
	}
	if t.opts.Sink != nil {
		id, err := t.opts.Sink.AppendSession(msg.ctx, rec)
		if err != nil {
			return session.Record{}, fmt.Errorf("saving session: %w", err)
		}
		rec.ID = id
	}

	m.clear()
	t.publish(Event{Type: EventSaved, Category: rec.Category, Total: int(rec.Total() / time.Second), SessionID: rec.ID})
	t.logger.Info("session saved", "id", rec.ID, "category", rec.Category, "breakdown", rec.Breakdown)
	return rec, nil
}

func (t *Tracker) accrue(m *machine) {
	if !m.running {
		return
	}
	accrued := m.tick(t.tickSeconds)
	t.publish(Event{Type: EventTick, Category: m.category, Total: m.elapsed, Paused: m.phase == Paused, Accrued: accrued})
}

// Submit hands a signal to the event loop. It blocks only while the inbox is
// full and drops the signal once the loop has exited. Submit matches
// activity.Emit so it can be passed to sources directly.
func (t *Tracker) Submit(sig activity.Signal) {
	select {
	case t.inbox <- message{kind: msgSignal, signal: sig}:
	case <-t.done:
	}
}

func (t *Tracker) call(ctx context.Context, msg message) (reply, error) {
	msg.ctx = ctx
	msg.reply = make(chan reply, 1)
	select {
	case t.inbox <- msg:
	case <-t.done:
		return reply{}, ErrClosed
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case r := <-msg.reply:
		return r, r.err
	case <-t.done:
		return reply{}, ErrClosed
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// Start begins a run. The manual flag is read only here.
func (t *Tracker) Start(ctx context.Context, opts StartOptions) (Snapshot, error) {
	r, err := t.call(ctx, message{kind: msgStart, start: opts})
	if err != nil {
		return r.snap, err
	}
	t.notifyStarted(r, opts)
	return r.snap, nil
}

func (t *Tracker) notifyStarted(r reply, opts StartOptions) {
	if r.started && t.opts.OnStart != nil && !opts.Manual {
		t.opts.OnStart()
	}
}

// Stop ends the current run and freezes its state. Signals submitted after
// Stop returns are discarded. Stopping an idle tracker is a no-op.
func (t *Tracker) Stop(ctx context.Context) (Snapshot, error) {
	r, err := t.call(ctx, message{kind: msgStop})
	return r.snap, err
}

// Save finalizes the stopped run and appends it to the sink. On a
// *session.ValidationError the stopped run is kept so the caller can retry.
func (t *Tracker) Save(ctx context.Context, label, summary string) (session.Record, error) {
	r, err := t.call(ctx, message{kind: msgSave, label: label, summary: summary})
	return r.record, err
}

// Discard drops the stopped run.
func (t *Tracker) Discard(ctx context.Context) error {
	_, err := t.call(ctx, message{kind: msgDiscard})
	return err
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot(ctx context.Context) (Snapshot, error) {
	r, err := t.call(ctx, message{kind: msgSnapshot})
	return r.snap, err
}

// Tick applies one clock tick after every message queued before it, and
// returns the resulting state.
func (t *Tracker) Tick(ctx context.Context) (Snapshot, error) {
	r, err := t.call(ctx, message{kind: msgTick})
	return r.snap, err
}

// Toggle starts an idle tracker or stops a running one. The decision and the
// transition happen in one step, so concurrent toggles alternate.
func (t *Tracker) Toggle(ctx context.Context, opts StartOptions) (Snapshot, error) {
	r, err := t.call(ctx, message{kind: msgToggle, start: opts})
	if err != nil {
		return r.snap, err
	}
	t.notifyStarted(r, opts)
	return r.snap, nil
}
