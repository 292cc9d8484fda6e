//go:build !darwin

package activity

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// procRoot is replaced in tests.
var procRoot = "/proc"

func activeWindow(ctx context.Context, run commandRunner) (Window, error) {
	out, err := run(ctx, "xdotool", "getactivewindow", "getwindowname", "getwindowpid")
	if err != nil {
		return Window{}, fmt.Errorf("xdotool: %w", err)
	}
	title, pid, err := parseXdotool(out)
	if err != nil {
		return Window{}, err
	}

	comm, err := os.ReadFile(fmt.Sprintf("%s/%d/comm", procRoot, pid))
	if err != nil {
		// The title alone still carries enough to classify most windows.
		return Window{Title: title}, nil
	}
	return Window{Process: strings.TrimSpace(string(comm)), Title: title}, nil
}

// parseXdotool parses "getwindowname getwindowpid" output: the title on the
// first line and the pid on the second.
func parseXdotool(out []byte) (string, int, error) {
	lines := splitLines(out, 2)
	if len(lines) < 2 {
		return "", 0, fmt.Errorf("xdotool: unexpected output %q", string(out))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return "", 0, fmt.Errorf("xdotool: parsing pid: %w", err)
	}
	return strings.TrimSpace(lines[0]), pid, nil
}
