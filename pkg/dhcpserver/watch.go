package dhcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events Kea produces when it
// appends to or rotates a lease file.
const DefaultDebounce = 500 * time.Millisecond

// Watch calls onChange, at most once per delay, after any of paths is
// written, created, renamed or removed. The parent directories are watched
// so files replaced by Kea's lease file cleanup are still seen. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, paths []string, delay time.Duration, log *slog.Logger, onChange func()) error {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("lease watcher: %w", err)
	}
	defer w.Close()

	names := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range paths {
		p = filepath.Clean(p)
		names[p] = true
		dirs[filepath.Dir(p)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
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
			if !names[filepath.Clean(ev.Name)] || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("lease watcher error", "err", err)
		case <-fire:
			fire = nil
			onChange()
		}
	}
}
