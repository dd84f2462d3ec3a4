package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
)

func TestRunLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" || r.URL.Query().Get("project") != "sail-on" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("X-Cache", "hit")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	cfg := loadConfig{
		BaseURL:     srv.URL + "/",
		Project:     "sail-on",
		Concurrency: 2,
		Duration:    200 * time.Millisecond,
		Limit:       5,
		Queries:     []string{"checkpoint", "harness api"},
	}
	stats := runLoad(context.Background(), srv.Client(), cfg)

	total := stats.total.Load()
	if total == 0 {
		t.Fatal("no requests recorded")
	}
	if stats.errors.Load() != 0 {
		t.Errorf("errors = %d", stats.errors.Load())
	}
	if stats.cacheHits.Load() != stats.success.Load() {
		t.Errorf("cache hits %d != successes %d", stats.cacheHits.Load(), stats.success.Load())
	}

	var buf bytes.Buffer
	printLoadReport(&buf, stats, cfg.Duration)
	for _, want := range []string{"total:", "p99:", "200: "} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("report missing %q:\n%s", want, buf.String())
		}
	}
}

func TestSearchURL(t *testing.T) {
	got := searchURL(loadConfig{BaseURL: "http://h:8080/", Limit: 3, Project: "docs"}, "save attributes")
	want := "http://h:8080/api/v1/search?limit=3&project=docs&q=save+attributes"
	if got != want {
		t.Errorf("searchURL = %q, want %q", got, want)
	}
}

func TestTitleQueries(t *testing.T) {
	idx, err := searchindex.Load(fixture)
	if err != nil {
		t.Fatal(err)
	}
	qs := titleQueries(idx)
	if len(qs) != 16 {
		t.Errorf("got %d queries, want 16", len(qs))
	}
	if qs[0] != "feedback" {
		t.Errorf("first query = %q", qs[0])
	}
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := map[float64]time.Duration{0: 1, 50: 5, 90: 9, 99: 10, 100: 10}
	for p, want := range cases {
		if got := percentile(sorted, p); got != want {
			t.Errorf("percentile(%v) = %v, want %v", p, got, want)
		}
	}
	if percentile(nil, 50) != 0 {
		t.Error("empty input must give 0")
	}
}

func TestLoadtestNeedsQueries(t *testing.T) {
	if _, err := run(t, "loadtest", "-d", "10ms"); err == nil || !strings.Contains(err.Error(), "no queries") {
		t.Errorf("err = %v", err)
	}
}
