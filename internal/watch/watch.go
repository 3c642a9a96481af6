// Package watch provides fsnotify-based directory watching that calls a
// registered callback for each created or written file (SPEC_FULL.md §2
// ambient package, grounded on photonic's internal/tasks/fs_watcher.go).
// cmd/boresight registers it on the demo image directory and only logs each
// change; it does not trigger a capture or a reload.
package watch

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher wraps an fsnotify.Watcher and dispatches named callbacks for the
// event kinds this server cares about (new/changed files).
type Watcher struct {
	fsw *fsnotify.Watcher
	log *slog.Logger

	onChange map[string]func(path string)
}

// New creates a Watcher. Call Close when done.
func New(log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{fsw: fsw, log: log, onChange: make(map[string]func(path string))}, nil
}

// WatchDir watches dir non-recursively and invokes onChange for every
// create/write event whose file matches one of the given extensions (pass
// nil to match everything).
func (w *Watcher) WatchDir(dir string, exts map[string]struct{}, onChange func(path string)) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.onChange[dir] = func(path string) {
		if exts != nil {
			if _, ok := exts[filepath.Ext(path)]; !ok {
				return
			}
		}
		onChange(path)
	}
	return nil
}

// Run processes fsnotify events until Close is called. Intended to be run
// in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			dir := filepath.Dir(ev.Name)
			if cb, ok := w.onChange[dir]; ok {
				cb(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("watch error", "error", err)
			}
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
