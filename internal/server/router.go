// Package server assembles the search service: it wires the project
// stores, searcher, cache, analytics and optional backends from config and
// serves the HTTP API.
package server

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/darpa-sail-on/docsearch/internal/analytics"
	"github.com/darpa-sail-on/docsearch/internal/ingestion"
	"github.com/darpa-sail-on/docsearch/internal/searcher/handler"
	"github.com/darpa-sail-on/docsearch/pkg/health"
	"github.com/darpa-sail-on/docsearch/pkg/metrics"
	"github.com/darpa-sail-on/docsearch/pkg/middleware"
	"github.com/darpa-sail-on/docsearch/pkg/ratelimit"
)

// Routes collects the handlers mounted by NewRouter. Nil optional fields
// leave their routes out.
type Routes struct {
	Search         *handler.Handler
	Analytics      *analytics.Handler
	Ingest         *ingestion.Handler
	Health         *health.Checker
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Limiter        *ratelimit.Limiter
	TrustedProxies []netip.Prefix
	AdminToken     string
	Timeout        time.Duration
	CORS           middleware.CORSConfig
}

// NewRouter builds the API mux and wraps it in the middleware stack.
func NewRouter(rt Routes) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.AdminToken(rt.AdminToken)

	mux.HandleFunc("GET /api/v1/search", rt.Search.Search)
	mux.HandleFunc("GET /api/v1/projects", rt.Search.Projects)
	mux.HandleFunc("GET /api/v1/projects/{name}", rt.Search.Project)
	mux.HandleFunc("GET /api/v1/projects/{name}/objects/{fullname}", rt.Search.Object)
	mux.HandleFunc("GET /api/v1/projects/{name}/searchindex.js", rt.Search.SearchIndex)
	mux.HandleFunc("GET /api/v1/builds", rt.Search.Builds)
	mux.HandleFunc("GET /api/v1/cache/stats", rt.Search.CacheStats)
	mux.Handle("POST /api/v1/cache/invalidate", admin(http.HandlerFunc(rt.Search.CacheInvalidate)))
	mux.Handle("POST /api/v1/admin/reload", admin(http.HandlerFunc(rt.Search.Reload)))
	if rt.Ingest != nil {
		mux.Handle("PUT /api/v1/projects/{name}/searchindex.js", admin(http.HandlerFunc(rt.Ingest.Upload)))
	}
	if rt.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", rt.Analytics.Stats)
		mux.HandleFunc("GET /api/v1/analytics/snapshots", rt.Analytics.Snapshots)
	}
	if rt.Health != nil {
		mux.HandleFunc("GET /health/live", rt.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", rt.Health.ReadyHandler())
	}
	if rt.MetricsHandler != nil {
		mux.Handle("GET /metrics", rt.MetricsHandler)
	}

	mws := []func(http.Handler) http.Handler{middleware.RequestID}
	if rt.Metrics != nil {
		mws = append(mws, middleware.Metrics(rt.Metrics))
	}
	mws = append(mws, middleware.CORS(rt.CORS))
	if rt.Limiter != nil {
		mws = append(mws, middleware.RateLimit(rt.Limiter, rt.TrustedProxies...))
	}
	if rt.Timeout > 0 {
		mws = append(mws, middleware.Timeout(rt.Timeout))
	}
	return middleware.Chain(mux, mws...)
}
