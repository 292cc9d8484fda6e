package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors produce on save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a Holder when its rule file changes on disk.
type Watcher struct {
	holder   *Holder
	debounce time.Duration
	logger   *slog.Logger

	// OnReload, if set, is called after every reload attempt.
	OnReload func(rs *RuleSet, err error)
}

// NewWatcher creates a Watcher for h. A debounce <= 0 uses DefaultDebounce.
func NewWatcher(h *Holder, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{holder: h, debounce: debounce, logger: slog.Default()}
}

// Run watches the rule file's directory until ctx is cancelled. The
// directory is watched instead of the file so that atomic replace-by-rename
// saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rules watcher: %w", err)
	}
	defer fw.Close()

	path := filepath.Clean(w.holder.Path())
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	w.logger.Debug("watching rules", "path", path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rules watcher error", "error", err)

		case <-timer.C:
			rs, err := w.holder.Reload()
			if err != nil {
				w.logger.Warn("rules reload failed, keeping previous rules", "error", err)
			}
			if w.OnReload != nil {
				w.OnReload(rs, err)
			}
		}
	}
}
