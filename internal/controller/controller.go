package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Packet is one line reported by the controller firmware: "id,count,button".
type Packet struct {
	ID     int
	Count  int64
	Button bool
}

// ParsePacket parses a firmware line. Lines with the wrong shape are
// rejected; unparseable numbers read as zero, matching the firmware's
// tolerance for partial writes.
func ParsePacket(line string) (Packet, bool) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return Packet{}, false
	}
	id, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
	count, _ := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	return Packet{
		ID:     id,
		Count:  count,
		Button: strings.TrimSpace(parts[2]) == "1",
	}, true
}

// Config configures one Controller.
type Config struct {
	// Port is the serial device name. Empty means keyboard only.
	Port     string
	BaudRate int
	// Open defaults to OpenSerial.
	Open     Opener
	Keyboard *Keyboard
	Keys     KeyMap
}

// Controller is one player's input. Hardware packets are handed from the
// reader goroutine through a single-slot channel; Update drains it.
//
// Update and the accessors are meant to be called from one goroutine, once
// per frame or tick. Close may be called from any goroutine.
type Controller struct {
	player   int
	portName string
	keyboard *Keyboard
	keys     KeyMap
	logger   *slog.Logger

	packets   chan Packet
	connected atomic.Bool

	portMu    sync.Mutex
	port      Port
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	id        int
	count     int64
	prevCount int64
	hwButton  bool
	button    bool
	delta     int64
}

// New creates the controller for player. If cfg.Port is set the port is
// opened immediately; failure leaves the controller on keyboard input.
func New(player int, cfg Config) *Controller {
	c := &Controller{
		player:   player,
		portName: cfg.Port,
		keyboard: cfg.Keyboard,
		keys:     cfg.Keys,
		logger:   slog.Default().With("player", player),
		packets:  make(chan Packet, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.Port == "" {
		close(c.done)
		return c
	}

	open := cfg.Open
	if open == nil {
		open = OpenSerial
	}
	port, err := open(cfg.Port, cfg.BaudRate)
	if err != nil {
		c.logger.Warn("controller unavailable, using keyboard", "port", cfg.Port, "error", err)
		close(c.done)
		return c
	}

	c.port = port
	c.connected.Store(true)
	go c.readLoop(port)
	c.logger.Info("controller connected", "port", cfg.Port)
	return c
}

func (c *Controller) readLoop(port Port) {
	defer close(c.done)
	defer c.connected.Store(false)

	var line []byte
	buf := make([]byte, 64)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		n, err := port.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case '\r':
			case '\n':
				if p, ok := ParsePacket(string(line)); ok {
					c.publish(p)
				}
				line = line[:0]
			default:
				line = append(line, b)
			}
		}
		if err != nil {
			select {
			case <-c.stop:
			default:
				c.logger.Warn("controller read failed, using keyboard", "port", c.portName, "error", err)
			}
			return
		}
	}
}

// publish replaces any unconsumed packet with p.
func (c *Controller) publish(p Packet) {
	for {
		select {
		case c.packets <- p:
			return
		default:
		}
		select {
		case <-c.packets:
		default:
		}
	}
}

// Update consumes the latest hardware packet and keyboard state.
func (c *Controller) Update() {
	c.delta = 0

	select {
	case p := <-c.packets:
		c.id = p.ID
		c.delta = p.Count - c.prevCount
		c.prevCount = p.Count
		c.count = p.Count
		c.hwButton = p.Button
	default:
	}

	if taps := c.keyboard.TakeTaps(c.keys.Encoder...); taps > 0 {
		c.delta += int64(taps)
	}
	c.button = c.hwButton || c.keyboard.Held(c.keys.Button...)
}

// Player returns the player index.
func (c *Controller) Player() int { return c.player }

// ID returns the hardware ID from the latest packet.
func (c *Controller) ID() int { return c.id }

// ButtonPressed reports the button state as of the last Update.
func (c *Controller) ButtonPressed() bool { return c.button }

// EncoderDelta returns the encoder movement since the previous Update.
func (c *Controller) EncoderDelta() int64 { return c.delta }

// EncoderCount returns the absolute encoder position from the hardware.
func (c *Controller) EncoderCount() int64 { return c.count }

// HardwareConnected reports whether the serial reader is running.
func (c *Controller) HardwareConnected() bool { return c.connected.Load() }

// PortName returns the configured serial port, if any.
func (c *Controller) PortName() string { return c.portName }

// Close stops the reader and releases the port. DTR and RTS are lowered
// before closing. Safe to call more than once.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done

		c.portMu.Lock()
		defer c.portMu.Unlock()
		if c.port == nil {
			return
		}
		err = closePort(c.port)
		c.port = nil
		c.connected.Store(false)
		c.logger.Info("controller closed", "port", c.portName)
	})
	return err
}

func closePort(p Port) error {
	var errs []error
	if err := p.SetDTR(false); err != nil {
		errs = append(errs, fmt.Errorf("lowering DTR: %w", err))
	}
	if err := p.SetRTS(false); err != nil {
		errs = append(errs, fmt.Errorf("lowering RTS: %w", err))
	}
	time.Sleep(signalSettle)
	if err := p.ResetInputBuffer(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("resetting input buffer: %w", err))
	}
	if err := p.ResetOutputBuffer(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("resetting output buffer: %w", err))
	}
	if err := p.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing port: %w", err))
	}
	return errors.Join(errs...)
}
