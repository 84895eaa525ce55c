package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// reloadOps are the events that can leave new content at the watched path:
// in-place writes, and editors that save by writing a temp file and renaming
// it over the original.
const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// Watch calls onChange with a freshly loaded Config each time the file at
// path changes, until ctx is cancelled. Reloads go through Load, so the
// environment keeps overriding the file exactly as it did at startup.
//
// The parent directory is watched rather than the file, so the watch survives
// the file being replaced. A reload that fails to read, parse or validate is
// logged and skipped and the previous config stays in effect.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %q: %w", filepath.Dir(target), err)
	}

	slog.Info("Watching config for changes", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&reloadOps == 0 {
				continue
			}
			reload(target, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}

func reload(path string, onChange func(*Config)) {
	cfg, err := Load(path)
	if err != nil {
		// A rename away from path, or a half-written file, lands here too.
		slog.Warn("Config reload failed, keeping previous config", "path", path, "error", err)
		return
	}
	slog.Info("Config reloaded", "path", path)
	onChange(cfg)
}
