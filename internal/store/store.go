// Package store owns the lifecycle of loaded search indices: one Store per
// documentation project holds the current immutable Index and replaces it
// as a whole when a new build appears on disk.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
)

// ReloadStatus is the outcome of one Reload call.
type ReloadStatus string

const (
	StatusSwapped   ReloadStatus = "swapped"
	StatusUnchanged ReloadStatus = "unchanged"
	StatusFailed    ReloadStatus = "failed"
)

// ReloadEvent describes a finished reload attempt.
type ReloadEvent struct {
	Project  string
	Path     string
	Status   ReloadStatus
	Checksum string
	Previous string
	Stats    searchindex.Stats
	Index    *searchindex.Index
	Err      error
	At       time.Time
}

// ReloadHook observes reload attempts. Hooks run synchronously in the
// reloading goroutine, in registration order.
type ReloadHook func(ctx context.Context, ev ReloadEvent)

type snapshot struct {
	idx      *searchindex.Index
	checksum string
	stats    searchindex.Stats
	loadedAt time.Time
}

// Store holds the current index of one project.
type Store struct {
	project string
	path    string
	current atomic.Pointer[snapshot]
	lastErr atomic.Pointer[string]

	reloadMu sync.Mutex
	hooksMu  sync.RWMutex
	hooks    []ReloadHook
	logger   *slog.Logger
}

// New creates an empty Store for the index file at path. Nothing is read
// until the first Reload.
func New(project, path string) *Store {
	return &Store{
		project: project,
		path:    path,
		logger:  slog.Default().With("component", "store", "project", project),
	}
}

func (s *Store) Project() string { return s.project }
func (s *Store) Path() string    { return s.path }

// Current returns the loaded index, or nil before the first successful load.
func (s *Store) Current() *searchindex.Index {
	if snap := s.current.Load(); snap != nil {
		return snap.idx
	}
	return nil
}

// Checksum identifies the loaded build; empty before the first load.
func (s *Store) Checksum() string {
	if snap := s.current.Load(); snap != nil {
		return snap.checksum
	}
	return ""
}

// Info is the externally visible state of a Store.
type Info struct {
	Project   string            `json:"project"`
	Path      string            `json:"path"`
	Loaded    bool              `json:"loaded"`
	Checksum  string            `json:"checksum,omitempty"`
	LoadedAt  *time.Time        `json:"loaded_at,omitempty"`
	Stats     searchindex.Stats `json:"stats"`
	LastError string            `json:"last_error,omitempty"`
}

func (s *Store) Info() Info {
	info := Info{Project: s.project, Path: s.path}
	if snap := s.current.Load(); snap != nil {
		at := snap.loadedAt
		info.Loaded = true
		info.Checksum = snap.checksum
		info.LoadedAt = &at
		info.Stats = snap.stats
	}
	if msg := s.lastErr.Load(); msg != nil {
		info.LastError = *msg
	}
	return info
}

// OnReload registers a hook for subsequent reload attempts.
func (s *Store) OnReload(hook ReloadHook) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, hook)
	s.hooksMu.Unlock()
}

// Reload reads the index file and swaps it in when it is valid and differs
// from the loaded build. On any error the previous index stays in place.
// It reports whether a new build was swapped in.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	prev := s.Checksum()
	ev := ReloadEvent{Project: s.project, Path: s.path, Previous: prev, At: time.Now()}

	idx, err := searchindex.Load(s.path)
	if err != nil {
		return false, s.fail(ctx, ev, err)
	}
	sum, err := idx.Checksum()
	if err != nil {
		return false, s.fail(ctx, ev, err)
	}
	s.lastErr.Store(nil)

	ev.Checksum = sum
	ev.Stats = idx.Stats()
	ev.Index = idx
	if sum == prev {
		ev.Status = StatusUnchanged
		ev.Index = s.Current()
		s.logger.Debug("index unchanged", "checksum", sum)
		s.notify(ctx, ev)
		return false, nil
	}

	s.current.Store(&snapshot{idx: idx, checksum: sum, stats: ev.Stats, loadedAt: ev.At})
	ev.Status = StatusSwapped
	s.logger.Info("index loaded",
		"checksum", sum,
		"previous", prev,
		"documents", ev.Stats.Documents,
		"objects", ev.Stats.Objects,
		"terms", ev.Stats.Terms,
	)
	s.notify(ctx, ev)
	return true, nil
}

func (s *Store) fail(ctx context.Context, ev ReloadEvent, err error) error {
	msg := err.Error()
	s.lastErr.Store(&msg)
	ev.Status = StatusFailed
	ev.Err = err
	if s.Current() != nil {
		s.logger.Warn("reload failed, keeping previous index", "checksum", ev.Previous, "error", err)
	} else {
		s.logger.Error("index load failed", "path", s.path, "error", err)
	}
	s.notify(ctx, ev)
	return fmt.Errorf("reloading project %s: %w", s.project, err)
}

func (s *Store) notify(ctx context.Context, ev ReloadEvent) {
	s.hooksMu.RLock()
	hooks := append([]ReloadHook(nil), s.hooks...)
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, ev)
	}
}

// Require returns the loaded index or ErrIndexNotLoaded.
func (s *Store) Require() (*searchindex.Index, error) {
	idx := s.Current()
	if idx == nil {
		return nil, fmt.Errorf("project %s: %w", s.project, apperrors.ErrIndexNotLoaded)
	}
	return idx, nil
}
