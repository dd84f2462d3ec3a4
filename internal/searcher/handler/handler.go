// Package handler serves the search HTTP API over the loaded project
// indices.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/darpa-sail-on/docsearch/internal/analytics"
	"github.com/darpa-sail-on/docsearch/internal/searcher/cache"
	"github.com/darpa-sail-on/docsearch/internal/searcher/executor"
	"github.com/darpa-sail-on/docsearch/internal/searcher/parser"
	"github.com/darpa-sail-on/docsearch/internal/searcher/ranker"
	"github.com/darpa-sail-on/docsearch/internal/searchindex"
	"github.com/darpa-sail-on/docsearch/internal/store"
	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
	"github.com/darpa-sail-on/docsearch/pkg/logger"
	"github.com/darpa-sail-on/docsearch/pkg/metrics"
)

// maxQueryLength bounds the q parameter in bytes.
const maxQueryLength = 1024

type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan, project string, limit int) (*executor.SearchResult, error)
}

// Catalog is the view of the project stores the handler needs.
type Catalog interface {
	Get(project string) (*store.Store, error)
	Stores() []*store.Store
	ReloadAll(ctx context.Context) ([]store.ReloadResult, error)
	Version() string
}

// BuildLister lists recorded index builds.
type BuildLister interface {
	List(ctx context.Context, project string, limit int) ([]store.Build, error)
}

// Options carries the optional collaborators; nil fields disable the
// corresponding feature.
type Options struct {
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Builds    BuildLister
	Metrics   *metrics.Metrics
}

type Handler struct {
	executor     SearchExecutor
	catalog      Catalog
	cache        *cache.QueryCache
	collector    *analytics.Collector
	builds       BuildLister
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

func New(exec SearchExecutor, catalog Catalog, defaultLimit, maxResults int, opts Options) *Handler {
	return &Handler{
		executor:     exec,
		catalog:      catalog,
		cache:        opts.Cache,
		collector:    opts.Collector,
		builds:       opts.Builds,
		metrics:      opts.Metrics,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// CacheHeader reports whether a search was served from the query cache:
// hit, miss or bypass.
const CacheHeader = "X-Cache"

// Search handles GET /api/v1/search?q=&project=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if len(query) > maxQueryLength {
		h.writeError(w, http.StatusBadRequest, "query is too long")
		return
	}
	limit, err := h.parseLimit(r.URL.Query().Get("limit"), h.defaultLimit, h.maxResults)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	project := r.URL.Query().Get("project")
	scope := cache.Scope{Project: project, Version: h.catalog.Version()}
	if project != "" {
		s, err := h.catalog.Get(project)
		if err != nil {
			h.writeAppError(w, r, err)
			return
		}
		scope.Version = s.Checksum()
	}

	plan := parser.Parse(query)
	if plan.Empty() {
		w.Header().Set(CacheHeader, "bypass")
		h.writeJSON(w, http.StatusOK, &executor.SearchResult{
			Query:     query,
			Results:   []ranker.Result{},
			Highlight: plan.HighlightTerms,
		})
		return
	}

	compute := func() (*executor.SearchResult, error) {
		return h.executor.Execute(ctx, plan, project, limit)
	}
	var (
		result      *executor.SearchResult
		cacheHit    bool
		cacheStatus = "bypass"
	)
	if h.cache != nil && scope.Version != "" {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, scope, plan, limit, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = compute()
	}
	latency := time.Since(start)

	if err != nil {
		h.observe(project, "error", cacheStatus, latency, 0)
		log.Error("search execution failed", "query", query, "project", project, "error", err)
		h.writeAppError(w, r, err)
		return
	}
	resultType := "hit"
	if result.TotalHits == 0 {
		resultType = "zero_result"
	}
	h.observe(project, resultType, cacheStatus, latency, len(result.Results))

	log.Info("search completed",
		"query", query,
		"project", project,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache", cacheStatus,
		"latency_ms", float64(latency.Microseconds())/1000,
	)
	if h.collector != nil {
		h.collector.Track(analytics.NewSearchEvent(query, project, plan.SearchTerms,
			result.TotalHits, len(result.Results), latency, cacheHit, logger.RequestID(ctx)))
	}
	w.Header().Set(CacheHeader, cacheStatus)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) observe(project, resultType, cacheStatus string, latency time.Duration, returned int) {
	if h.metrics == nil {
		return
	}
	if project == "" {
		project = cache.AllProjects
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(project, resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	if resultType != "error" {
		h.metrics.SearchResultsCount.Observe(float64(returned))
	}
	switch cacheStatus {
	case "hit":
		h.metrics.CacheHitsTotal.Inc()
	case "miss":
		h.metrics.CacheMissesTotal.Inc()
	}
}

// Projects handles GET /api/v1/projects.
func (h *Handler) Projects(w http.ResponseWriter, r *http.Request) {
	stores := h.catalog.Stores()
	infos := make([]store.Info, 0, len(stores))
	for _, s := range stores {
		infos = append(infos, s.Info())
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"projects": infos})
}

// Project handles GET /api/v1/projects/{name}.
func (h *Handler) Project(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.Get(r.PathValue("name"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.Info())
}

// Object handles GET /api/v1/projects/{name}/objects/{fullname}.
func (h *Handler) Object(w http.ResponseWriter, r *http.Request) {
	idx, err := h.index(r.PathValue("name"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	fullName := r.PathValue("fullname")
	obj, ok := idx.ObjectByName(fullName)
	if !ok {
		h.writeAppError(w, r, apperrors.Newf(apperrors.ErrObjectNotFound, http.StatusNotFound, "no object named %q", fullName))
		return
	}
	h.writeJSON(w, http.StatusOK, obj)
}

// SearchIndex handles GET /api/v1/projects/{name}/searchindex.js and serves
// the loaded build in the generator's format, or as JSON with
// ?format=json. The checksum doubles as the ETag.
func (h *Handler) SearchIndex(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.Get(r.PathValue("name"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	idx, err := s.Require()
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	format := r.URL.Query().Get("format")
	etag := `"` + s.Checksum() + "-" + format + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	var buf bytes.Buffer
	contentType := "application/javascript; charset=utf-8"
	switch format {
	case "", "js":
		err = searchindex.Encode(&buf, idx)
	case "json":
		contentType = "application/json"
		err = searchindex.EncodeJSON(&buf, idx, false)
	default:
		h.writeError(w, http.StatusBadRequest, "format must be js or json")
		return
	}
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Reload handles POST /api/v1/admin/reload[?project=].
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	if project := r.URL.Query().Get("project"); project != "" {
		s, err := h.catalog.Get(project)
		if err != nil {
			h.writeAppError(w, r, err)
			return
		}
		changed, err := s.Reload(r.Context())
		res := store.ReloadResult{Project: project, Changed: changed, Checksum: s.Checksum()}
		if err != nil {
			res.Error = err.Error()
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"results": []store.ReloadResult{res}})
		return
	}
	results, err := h.catalog.ReloadAll(r.Context())
	if err != nil {
		log.Warn("reload finished with errors", "error", err)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

// CacheInvalidate handles POST /api/v1/cache/invalidate[?project=].
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeAppError(w, r, apperrors.New(apperrors.ErrBackendDisabled, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	project := r.URL.Query().Get("project")
	if project != "" {
		if _, err := h.catalog.Get(project); err != nil {
			h.writeAppError(w, r, err)
			return
		}
	}
	deleted, err := h.cache.Invalidate(r.Context(), project)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// Builds handles GET /api/v1/builds?project=&limit=.
func (h *Handler) Builds(w http.ResponseWriter, r *http.Request) {
	if h.builds == nil {
		h.writeAppError(w, r, apperrors.New(apperrors.ErrBackendDisabled, http.StatusServiceUnavailable, "build history is disabled"))
		return
	}
	limit, err := h.parseLimit(r.URL.Query().Get("limit"), 20, 500)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	project := r.URL.Query().Get("project")
	if project != "" {
		if _, err := h.catalog.Get(project); err != nil {
			h.writeAppError(w, r, err)
			return
		}
	}
	builds, err := h.builds.List(r.Context(), project, limit)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"builds": builds})
}

func (h *Handler) index(project string) (*searchindex.Index, error) {
	s, err := h.catalog.Get(project)
	if err != nil {
		return nil, err
	}
	return s.Require()
}

func (h *Handler) parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, max), nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps err to its status code. Server-side failures are
// logged and answered with a generic message.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	h.writeError(w, status, msg)
}
