package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/darpa-sail-on/docsearch/internal/analytics"
	"github.com/darpa-sail-on/docsearch/internal/ingestion"
	"github.com/darpa-sail-on/docsearch/internal/searcher/executor"
	"github.com/darpa-sail-on/docsearch/internal/searcher/handler"
	"github.com/darpa-sail-on/docsearch/internal/searcher/ranker"
	"github.com/darpa-sail-on/docsearch/internal/searchindex"
	"github.com/darpa-sail-on/docsearch/internal/store"
	"github.com/darpa-sail-on/docsearch/pkg/metrics"
	"github.com/darpa-sail-on/docsearch/pkg/middleware"
)

const adminToken = "s3cret"

type testServer struct {
	handler http.Handler
	catalog *store.Catalog
	path    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "searchindex", "testdata", "searchindex.js"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "searchindex.js")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	m := metrics.New(prometheus.NewRegistry())
	catalog := store.NewCatalog(map[string]string{"sail-on": path})
	catalog.OnReload(MetricsHook(m))
	if err := catalog.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	s, _ := catalog.Get("sail-on")
	searcher := executor.NewCatalog(map[string]*executor.Executor{
		"sail-on": executor.New("sail-on", s, ranker.DefaultScorer()),
	}, 0)

	agg := analytics.NewAggregator()
	collector := analytics.NewCollector(analytics.NewLocalPublisher(agg), 100)
	collector.Start(context.Background())
	t.Cleanup(collector.Close)

	h := handler.New(searcher, catalog, 20, 100, handler.Options{Collector: collector, Metrics: m})
	router := NewRouter(Routes{
		Search:     h,
		Analytics:  analytics.NewHandler(agg, nil),
		Ingest:     ingestion.New(catalog),
		Health:     newChecker(catalog, nil, nil),
		Metrics:    m,
		AdminToken: adminToken,
		CORS:       middleware.DefaultCORSConfig(),
	})
	return &testServer{handler: router, catalog: catalog, path: path}
}

func (ts *testServer) do(t *testing.T, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/search?q=checkpoint&limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("response lacks a request id")
	}
	res := decode[executor.SearchResult](t, rec)
	if res.TotalHits != 9 || len(res.Results) != 2 {
		t.Fatalf("total=%d returned=%d", res.TotalHits, len(res.Results))
	}
	top := res.Results[0]
	if top.Title != "Checkpoint API" || top.Score != 15 || top.Project != "sail-on" {
		t.Errorf("top result = %+v", top)
	}
	if len(res.Highlight) != 1 || res.Highlight[0] != "checkpoint" {
		t.Errorf("highlight = %v", res.Highlight)
	}
	if got := rec.Header().Get(handler.CacheHeader); got != "bypass" {
		t.Errorf("%s = %q without a cache, want bypass", handler.CacheHeader, got)
	}
}

func TestSearchEndpointErrors(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		target string
		want   int
	}{
		{"/api/v1/search?q=", http.StatusOK},
		{"/api/v1/search?q=-feedback", http.StatusOK},
		{"/api/v1/search?q=x&limit=0", http.StatusBadRequest},
		{"/api/v1/search?q=x&limit=abc", http.StatusBadRequest},
		{"/api/v1/search?q=" + strings.Repeat("a", 2000), http.StatusBadRequest},
		{"/api/v1/search?q=checkpoint&project=nope", http.StatusNotFound},
		{"/api/v1/search?q=checkpoint&project=sail-on", http.StatusOK},
	}
	for _, tt := range tests {
		rec := ts.do(t, http.MethodGet, tt.target, nil)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d (%s)", tt.target[:min(len(tt.target), 60)], rec.Code, tt.want, rec.Body.String())
		}
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/search?q=-feedback", nil)
	if got := rec.Header().Get(handler.CacheHeader); got != "bypass" {
		t.Errorf("%s = %q for an excluded-only query, want bypass", handler.CacheHeader, got)
	}
	res := decode[executor.SearchResult](t, rec)
	if res.TotalHits != 0 || res.Results == nil {
		t.Errorf("excluded-only query = %+v", res)
	}
}

func TestProjectEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/projects", nil)
	body := decode[struct {
		Projects []store.Info `json:"projects"`
	}](t, rec)
	if len(body.Projects) != 1 || !body.Projects[0].Loaded || body.Projects[0].Stats.Documents != 16 {
		t.Errorf("projects = %+v", body.Projects)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/projects/sail-on/objects/sail_on_client.checkpointer.Checkpointer", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("object status = %d: %s", rec.Code, rec.Body.String())
	}
	obj := decode[searchindex.Object](t, rec)
	if obj.FullName != "sail_on_client.checkpointer.Checkpointer" || obj.Kind != "class" || obj.Title != "Checkpoint API" {
		t.Errorf("object = %+v", obj)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/projects/sail-on/objects/no.such.thing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing object status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/projects/other", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing project status = %d", rec.Code)
	}
}

func TestSearchIndexEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/projects/sail-on/searchindex.js", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "Search.setIndex(") {
		t.Errorf("body starts %q", rec.Body.String()[:20])
	}
	idx, err := searchindex.DecodeBytes(rec.Body.Bytes())
	if err != nil || len(idx.DocNames) != 16 {
		t.Fatalf("served index does not decode: %v", err)
	}

	etag := rec.Header().Get("ETag")
	rec = ts.do(t, http.MethodGet, "/api/v1/projects/sail-on/searchindex.js", map[string]string{"If-None-Match": etag})
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional GET status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/projects/sail-on/searchindex.js?format=json", nil)
	if rec.Header().Get("Content-Type") != "application/json" || !strings.HasPrefix(rec.Body.String(), "{") {
		t.Errorf("json format: %s %q", rec.Header().Get("Content-Type"), rec.Body.String()[:1])
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/projects/sail-on/searchindex.js?format=xml", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad format status = %d", rec.Code)
	}
}

func TestAdminReload(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.do(t, http.MethodPost, "/api/v1/admin/reload", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated reload status = %d", rec.Code)
	}

	auth := map[string]string{"Authorization": "Bearer " + adminToken}
	rec := ts.do(t, http.MethodPost, "/api/v1/admin/reload", auth)
	body := decode[struct {
		Results []store.ReloadResult `json:"results"`
	}](t, rec)
	if len(body.Results) != 1 || body.Results[0].Changed || body.Results[0].Error != "" {
		t.Errorf("unchanged reload = %+v", body.Results)
	}

	if err := os.WriteFile(ts.path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec = ts.do(t, http.MethodPost, "/api/v1/admin/reload?project=sail-on", auth)
	body = decode[struct {
		Results []store.ReloadResult `json:"results"`
	}](t, rec)
	if len(body.Results) != 1 || body.Results[0].Error == "" || body.Results[0].Checksum == "" {
		t.Errorf("failed reload = %+v", body.Results)
	}

	// The previous build keeps serving.
	if rec := ts.do(t, http.MethodGet, "/api/v1/search?q=checkpoint", nil); rec.Code != http.StatusOK {
		t.Errorf("search after failed reload status = %d", rec.Code)
	}
	ready := ts.do(t, http.MethodGet, "/health/ready", nil)
	if ready.Code != http.StatusOK || !strings.Contains(ready.Body.String(), "degraded") {
		t.Errorf("ready = %d %s", ready.Code, ready.Body.String())
	}
}

func TestDisabledBackends(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.do(t, http.MethodGet, "/api/v1/builds", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("builds status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/cache/stats", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "disabled") {
		t.Errorf("cache stats = %d %s", rec.Code, rec.Body.String())
	}
	auth := map[string]string{"Authorization": "Bearer " + adminToken}
	if rec := ts.do(t, http.MethodPost, "/api/v1/cache/invalidate", auth); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("invalidate status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/analytics", nil); rec.Code != http.StatusOK {
		t.Errorf("analytics status = %d", rec.Code)
	}
}

func TestIndicesCheck(t *testing.T) {
	catalog := store.NewCatalog(map[string]string{"docs": filepath.Join(t.TempDir(), "missing.js")})
	_ = catalog.LoadAll(context.Background())
	if got := IndicesCheck(catalog)(context.Background()); got.Status != "down" {
		t.Errorf("status = %s, want down", got.Status)
	}
}

func TestUploadRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.do(t, http.MethodPut, "/api/v1/projects/sail-on/searchindex.js", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated upload status = %d", rec.Code)
	}
	auth := map[string]string{"X-Admin-Token": adminToken}
	if rec := ts.do(t, http.MethodPut, "/api/v1/projects/sail-on/searchindex.js", auth); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty upload status = %d: %s", rec.Code, rec.Body.String())
	}
}
