// Package filewatch calls a function after a file changes on disk. Bursts of
// events for one save are coalesced, so the function runs once per settled
// change. Both the agent and the server reload their config through it.
package filewatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is the quiet period used when Watch is given zero.
const DefaultSettle = 100 * time.Millisecond

// Watch runs fn once the file at path has been written or recreated and no
// further event for it arrived within settle. It watches the parent directory
// so atomic saves (write temp, rename) are seen. Watch returns nil when ctx
// is cancelled and an error only if the watcher cannot be set up.
func Watch(ctx context.Context, path string, settle time.Duration, fn func()) error {
	if settle <= 0 {
		settle = DefaultSettle
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	// fire is nil while no change is pending.
	var fire <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || (!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(settle)
			fire = timer.C

		case <-fire:
			fire, timer = nil, nil
			fn()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("filewatch: watcher error", "path", path, "err", err)
		}
	}
}
