package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a project when its index file is written or replaced.
// Directories are watched rather than files because builds replace the
// index by renaming over it, which orphans a file watch.
type Watcher struct {
	fs       *fsnotify.Watcher
	byPath   map[string]*Store
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher starts watching the directories of every store in the catalog.
func NewWatcher(c *Catalog, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	w := &Watcher{
		fs:       fw,
		byPath:   make(map[string]*Store),
		debounce: debounce,
		logger:   slog.Default().With("component", "index-watcher"),
		timers:   make(map[string]*time.Timer),
	}
	dirs := make(map[string]struct{})
	for _, s := range c.Stores() {
		abs, err := filepath.Abs(s.Path())
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("resolving %s: %w", s.Path(), err)
		}
		w.byPath[abs] = s
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
		w.logger.Info("watching index directory", "dir", dir)
	}
	return w, nil
}

// Run dispatches file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}
	s, ok := w.byPath[abs]
	if !ok {
		return
	}
	w.logger.Debug("index file changed", "project", s.Project(), "op", ev.Op.String())
	w.schedule(ctx, abs, s)
}

// schedule collapses a burst of events on one file into a single reload.
func (w *Watcher) schedule(ctx context.Context, path string, s *Store) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		// Errors are logged by the store and the previous index stays.
		_, _ = s.Reload(ctx)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}
