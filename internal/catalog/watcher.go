package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// ReloadCallback is called after a watcher-driven reload changed the catalog.
type ReloadCallback func()

// Watch reloads the catalog whenever its file changes until ctx is
// cancelled. The parent directory is watched rather than the file itself so
// that editors which replace the file on save are still picked up.
//
// Bursts of events are debounced; a failed reload keeps the previous
// definitions in place.
func (c *Catalog) Watch(ctx context.Context, cb ReloadCallback) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(c.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(c.path)

	c.logger.Info("catalog watcher: started", slog.String("path", c.path))

	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(reloadDebounce)
			timerCh = timer.C
		} else {
			timer.Reset(reloadDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			c.logger.Info("catalog watcher: stopped")
			return nil

		case <-timerCh:
			changed, err := c.Reload()
			if err != nil {
				c.logger.Warn("catalog watcher: reload failed", slog.String("error", err.Error()))
				continue
			}
			if changed && cb != nil {
				cb()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("catalog watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
