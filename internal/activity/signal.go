// Package activity models the raw observations of what the user is doing and
// the sources that produce them.
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the origin of a signal.
type Kind int

const (
	// KindAny is the zero value; rule filters use it to mean "no filter".
	KindAny Kind = iota
	KindProcess
	KindBrowserTab
	KindHardwareInput
)

var kindNames = map[Kind]string{
	KindAny:           "",
	KindProcess:       "process",
	KindBrowserTab:    "browser_tab",
	KindHardwareInput: "hardware_input",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		if name == "" {
			return "any"
		}
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses the textual form used in rule files. The empty string and
// "any" map to KindAny.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "any":
		return KindAny, nil
	case "tab", "browser":
		return KindBrowserTab, nil
	case "hardware":
		return KindHardwareInput, nil
	}
	for k, name := range kindNames {
		if name != "" && name == s {
			return k, nil
		}
	}
	return KindAny, fmt.Errorf("unknown signal kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Signal is a single observation produced by a Source. Signals are transient
// and never persisted.
type Signal struct {
	Kind       Kind      `json:"kind"`
	Payload    string    `json:"payload"`
	ObservedAt time.Time `json:"observed_at"`
}

// Emit receives signals from a Source. Implementations must not block for long.
type Emit func(Signal)

// Source produces signals asynchronously. Start must not block; Stop must be
// safe to call more than once.
type Source interface {
	Start(ctx context.Context, emit Emit) error
	Stop()
}

// Resetter is implemented by sources that can forget (or replay) their last
// emission so a fresh tracking run observes the current context immediately.
type Resetter interface {
	Reset()
}
