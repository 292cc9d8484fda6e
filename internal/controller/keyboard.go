package controller

import (
	"io"
	"sync"
	"time"
)

// DefaultHoldWindow is how long a key press counts as held. Terminals only
// report key presses, so holding is inferred from auto-repeat.
const DefaultHoldWindow = 250 * time.Millisecond

// KeyMap binds keyboard keys to one player's inputs.
type KeyMap struct {
	// Button keys count as the button while held.
	Button []byte
	// Encoder keys add one encoder step per press.
	Encoder []byte
}

// KeyMapFor returns the default bindings for a player. Players beyond the
// second have no keyboard bindings.
func KeyMapFor(player int) KeyMap {
	switch player {
	case 0:
		return KeyMap{Button: []byte{' ', 'e'}, Encoder: []byte{'e'}}
	case 1:
		return KeyMap{Button: []byte{'\r', '\n', '\\'}, Encoder: []byte{'\r', '\n'}}
	}
	return KeyMap{}
}

// Keyboard tracks key presses read from a raw terminal. It is shared by all
// controllers; each reads its own keys.
type Keyboard struct {
	hold time.Duration
	now  func() time.Time

	mu        sync.Mutex
	lastPress map[byte]time.Time
	taps      map[byte]int
}

// NewKeyboard creates a Keyboard with DefaultHoldWindow.
func NewKeyboard() *Keyboard {
	return &Keyboard{
		hold:      DefaultHoldWindow,
		now:       time.Now,
		lastPress: make(map[byte]time.Time),
		taps:      make(map[byte]int),
	}
}

// Press records one key press.
func (k *Keyboard) Press(key byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lastPress[key] = k.now()
	k.taps[key]++
}

// Feed reads key bytes from r until it returns an error. io.EOF is not
// reported.
func (k *Keyboard) Feed(r io.Reader) error {
	buf := make([]byte, 32)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			k.Press(b)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Held reports whether any of keys was pressed within the hold window.
func (k *Keyboard) Held(keys ...byte) bool {
	if k == nil {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	for _, key := range keys {
		if t, ok := k.lastPress[key]; ok && now.Sub(t) < k.hold {
			return true
		}
	}
	return false
}

// TakeTaps returns the number of presses of keys since the last call and
// resets their counters.
func (k *Keyboard) TakeTaps(keys ...byte) int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, key := range keys {
		n += k.taps[key]
		delete(k.taps, key)
	}
	return n
}
