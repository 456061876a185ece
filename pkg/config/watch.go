package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/piwi3910/strata/pkg/telemetry"
)

// Watch reloads the configuration whenever the file changes and hands the
// parsed result to onChange. Reloads are debounced; a file that fails to
// parse is logged and skipped, keeping the last good configuration active.
// Watching stops when the context is cancelled.
func Watch(ctx context.Context, path string, log *telemetry.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	go processEvents(ctx, watcher, path, log, onChange)
	log.WithField("path", path).Debug("watching config file")
	return nil
}

func processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, log *telemetry.Logger, onChange func(*Config)) {
	// Editors often emit bursts of write events for one save.
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				cfg, err := Load(path)
				if err != nil {
					log.WithError(err).Warn("config reload failed, keeping previous")
					return
				}
				log.Info("config reloaded")
				onChange(cfg)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config watcher error")
		}
	}
}
