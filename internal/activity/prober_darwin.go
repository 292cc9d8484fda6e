//go:build darwin

package activity

import (
	"context"
	"fmt"
	"strings"
)

const frontWindowScript = `tell application "System Events"
	set frontApp to first application process whose frontmost is true
	set appName to name of frontApp
	set winTitle to ""
	try
		set winTitle to name of front window of frontApp
	end try
end tell
return appName & linefeed & winTitle`

func activeWindow(ctx context.Context, run commandRunner) (Window, error) {
	out, err := run(ctx, "osascript", "-e", frontWindowScript)
	if err != nil {
		return Window{}, fmt.Errorf("osascript: %w", err)
	}
	return parseOsascript(out), nil
}

func parseOsascript(out []byte) Window {
	lines := splitLines(out, 2)
	w := Window{Process: strings.TrimSpace(lines[0])}
	if len(lines) > 1 {
		w.Title = strings.TrimSpace(lines[1])
	}
	return w
}
