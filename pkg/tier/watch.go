package tier

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the tier table at path whenever it changes and passes each
// successfully validated Registry to onChange. Invalid tables are logged and
// skipped so the previous registry stays in effect. Watch blocks until ctx is
// done.
func Watch(ctx context.Context, path string, onChange func(*Registry)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Editors often replace files by rename, so watch the directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	const debounce = 200 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Tier watcher error", "error", err)
		case <-timer.C:
			r, err := Load(abs)
			if err != nil {
				slog.Error("Failed to reload tier table", "path", abs, "error", err)
				continue
			}
			slog.Info("Reloaded tier table", "path", abs, "tiers", len(r.order))
			onChange(r)
		}
	}
}
