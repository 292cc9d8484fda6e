package activity

import (
	"context"
	"os/exec"
	"strings"
)

// commandRunner runs an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NewSystemProber returns the active-window prober for the current platform.
func NewSystemProber() WindowProber {
	return &systemProber{run: execRunner}
}

type systemProber struct {
	run commandRunner
}

func (p *systemProber) ActiveWindow(ctx context.Context) (Window, error) {
	return activeWindow(ctx, p.run)
}

// splitLines trims trailing newlines and splits command output into at most n
// lines.
func splitLines(out []byte, n int) []string {
	s := strings.TrimRight(string(out), "\r\n")
	return strings.SplitN(s, "\n", n)
}
