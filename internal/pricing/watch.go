package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs editor write bursts before re-reading the table.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the table whenever its backing file changes. Blocks until
// ctx is cancelled. A failed reload keeps the previous rates in effect. Only
// tables created with Load have a file to watch.
func (t *Table) Watch(ctx context.Context) error {
	if t.path == "" {
		return fmt.Errorf("pricing table has no backing file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create pricing watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(t.path); err != nil {
		return fmt.Errorf("watch %q: %w", t.path, err)
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := t.reload(); err != nil {
					t.logger.Warn("pricing table reload failed, keeping previous rates", "err", err)
					return
				}
				t.logger.Info("pricing table reloaded", "path", t.path)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("pricing watcher error", "err", err)
		}
	}
}
