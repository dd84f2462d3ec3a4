package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
)

// Catalog maps project names to their Stores. The set of projects is fixed
// at construction; only the indices behind them change.
type Catalog struct {
	stores map[string]*Store
	names  []string
	logger *slog.Logger
}

// NewCatalog creates one Store per project (name -> index path).
func NewCatalog(projects map[string]string) *Catalog {
	c := &Catalog{
		stores: make(map[string]*Store, len(projects)),
		names:  make([]string, 0, len(projects)),
		logger: slog.Default().With("component", "catalog"),
	}
	for name, path := range projects {
		c.stores[name] = New(name, path)
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c
}

// Get returns the Store of project.
func (c *Catalog) Get(project string) (*Store, error) {
	s, ok := c.stores[project]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrProjectNotFound, http.StatusNotFound, "unknown project %q", project)
	}
	return s, nil
}

// Names returns the project names in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Stores returns the stores in project name order.
func (c *Catalog) Stores() []*Store {
	out := make([]*Store, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.stores[name])
	}
	return out
}

// OnReload registers hook on every store.
func (c *Catalog) OnReload(hook ReloadHook) {
	for _, s := range c.stores {
		s.OnReload(hook)
	}
}

// ReloadResult is the per-project outcome of ReloadAll.
type ReloadResult struct {
	Project  string `json:"project"`
	Changed  bool   `json:"changed"`
	Checksum string `json:"checksum,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ReloadAll reloads every project concurrently. A failing project keeps its
// previous index; the failures are joined into the returned error.
func (c *Catalog) ReloadAll(ctx context.Context) ([]ReloadResult, error) {
	results := make([]ReloadResult, len(c.names))
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range c.names {
		s := c.stores[name]
		g.Go(func() error {
			changed, err := s.Reload(gctx)
			res := ReloadResult{Project: name, Changed: changed, Checksum: s.Checksum()}
			if err != nil {
				res.Error = err.Error()
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	changed := 0
	for _, r := range results {
		if r.Changed {
			changed++
		}
	}
	c.logger.Info("reload complete", "projects", len(results), "changed", changed, "failed", len(errs))
	return results, errors.Join(errs...)
}

// LoadAll performs the initial load of every project.
func (c *Catalog) LoadAll(ctx context.Context) error {
	_, err := c.ReloadAll(ctx)
	return err
}

// Loaded reports how many projects have an index.
func (c *Catalog) Loaded() int {
	n := 0
	for _, s := range c.stores {
		if s.Current() != nil {
			n++
		}
	}
	return n
}

// Version combines the checksums of all loaded builds. It changes whenever
// any project's index is replaced.
func (c *Catalog) Version() string {
	h := sha256.New()
	for _, name := range c.names {
		fmt.Fprintf(h, "%s=%s\n", name, c.stores[name].Checksum())
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:8])
}
