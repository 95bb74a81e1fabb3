package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchRoutingFile reloads the routing file whenever it changes on disk and
// hands each successfully parsed version to onChange. Invalid versions are
// logged and skipped so the last good configuration stays in effect. The
// watcher stops when ctx is cancelled.
func WatchRoutingFile(ctx context.Context, path string, onChange func(*RoutingFile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: editors and config mounts replace
	// the file, which drops a file-level watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				rf, err := LoadRoutingFile(target)
				if err != nil {
					slog.Warn("routing file reload failed, keeping last good config",
						slog.String("path", target),
						slog.Any("error", err))
					continue
				}
				slog.Info("routing file reloaded",
					slog.String("path", target),
					slog.Int("rules", len(rf.Rules)),
					slog.Int("trusted_domains", len(rf.TrustedDomains)))
				onChange(rf)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("routing file watcher error", slog.Any("error", err))
			}
		}
	}()
	return nil
}
