package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a small set of files (daemon-settings.json, workflow
// YAML definitions) for external edits, per SPEC_FULL.md's ambient
// config section.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// NewWatcher creates a Watcher with no files registered yet.
func NewWatcher(logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{fsw: fsw, logger: logger}, nil
}

// Add registers a file (or directory) for change notifications.
func (w *Watcher) Add(path string) error {
	return w.fsw.Add(filepath.Dir(path))
}

// Run dispatches write/create/remove events for the watched paths to
// onChange until ctx is cancelled. Events for files other than those
// explicitly added via Add are still delivered (fsnotify watches
// directories), so onChange is expected to filter by path.
func (w *Watcher) Run(ctx context.Context, onChange func(path string)) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
				onChange(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config: watch error", "error", err)
		}
	}
}

// Close releases the underlying OS watch handles.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
