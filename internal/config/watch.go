package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/telnet2/mcpchat/internal/event"
	"github.com/telnet2/mcpchat/internal/logging"
)

// debounceWindow collapses editor write bursts into one change event.
const debounceWindow = 250 * time.Millisecond

// WatchServers watches the server definitions file and publishes a
// config.changed event whenever it is written or replaced. The parent
// directory is watched rather than the file itself, so atomic
// rename-into-place saves are seen too. Watching stops when ctx is done.
func WatchServers(ctx context.Context, path string, bus *event.Bus) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounceWindow)
					timerC = timer.C
				} else {
					timer.Reset(debounceWindow)
				}

			case <-timerC:
				timer = nil
				timerC = nil
				logging.Info().Str("path", path).Msg("server configuration changed")
				bus.Publish(event.New(event.ConfigChanged, "", map[string]string{"path": path}))

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return nil
}
