package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darpa-sail-on/docsearch/internal/searcher/merger"
	"github.com/darpa-sail-on/docsearch/internal/searcher/parser"
	"github.com/darpa-sail-on/docsearch/internal/searcher/ranker"
	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
	"github.com/darpa-sail-on/docsearch/pkg/resilience"
)

// CatalogExecutor fans a query out over several projects and merges the
// per-project top results.
type CatalogExecutor struct {
	executors map[string]*Executor
	timeout   time.Duration
	logger    *slog.Logger
}

func NewCatalog(executors map[string]*Executor, timeoutPerProject time.Duration) *CatalogExecutor {
	return &CatalogExecutor{
		executors: executors,
		timeout:   timeoutPerProject,
		logger:    slog.Default().With("component", "catalog-executor"),
	}
}

// Projects returns the configured project names in sorted order.
func (ce *CatalogExecutor) Projects() []string {
	names := make([]string, 0, len(ce.executors))
	for name := range ce.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute searches project, or every project when project is empty.
// Projects that fail or time out are skipped; the query fails only when no
// project answered.
func (ce *CatalogExecutor) Execute(ctx context.Context, plan *parser.QueryPlan, project string, limit int) (*SearchResult, error) {
	if project != "" {
		e, ok := ce.executors[project]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrProjectNotFound, http.StatusNotFound, "project %q is not configured", project)
		}
		return e.Execute(ctx, plan, limit)
	}
	if plan.Empty() {
		return &SearchResult{
			Query:     plan.RawQuery,
			Results:   []ranker.Result{},
			Highlight: plan.HighlightTerms,
		}, nil
	}

	var (
		mu       sync.Mutex
		lists    [][]ranker.Result
		total    int
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, e := range ce.executors {
		g.Go(func() error {
			res, err := resilience.Call(gctx, ce.timeout, "search "+name, func(ctx context.Context) (*SearchResult, error) {
				return e.Execute(ctx, plan, limit)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ce.logger.Warn("project search failed", "project", name, "error", err)
				failures = append(failures, err)
				return nil
			}
			lists = append(lists, res.Results)
			total += res.TotalHits
			return nil
		})
	}
	_ = g.Wait()

	if len(lists) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("all %d projects failed: %w", len(failures), errors.Join(failures...))
	}
	merged := merger.Merge(lists, limit)
	ce.logger.Debug("catalog query executed",
		"query", plan.RawQuery,
		"projects_queried", len(lists),
		"projects_failed", len(failures),
		"total_hits", total,
		"results", len(merged),
	)
	return &SearchResult{
		Query:     plan.RawQuery,
		TotalHits: total,
		Results:   merged,
		Highlight: plan.HighlightTerms,
	}, nil
}
