package cache

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/darpa-sail-on/docsearch/internal/searcher/executor"
	"github.com/darpa-sail-on/docsearch/internal/searcher/parser"
	"github.com/darpa-sail-on/docsearch/internal/searcher/ranker"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
}

func newMemBackend() *memBackend { return &memBackend{data: map[string]string{}} }

func (m *memBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", errors.New("connection refused")
	}
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection refused")
	}
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func sampleResult(q string) *executor.SearchResult {
	return &executor.SearchResult{
		Query:     q,
		TotalHits: 1,
		Results:   []ranker.Result{{Project: "client", DocName: "index", Title: "Welcome", Score: 15}},
	}
}

func TestGetOrCompute(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	scope := Scope{Project: "client", Version: "abc"}
	plan := parser.Parse("checkpoint")
	var calls atomic.Int32
	compute := func() (*executor.SearchResult, error) {
		calls.Add(1)
		return sampleResult("checkpoint"), nil
	}

	res, hit, err := c.GetOrCompute(context.Background(), scope, plan, 10, compute)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	if res.TotalHits != 1 {
		t.Errorf("TotalHits = %d", res.TotalHits)
	}
	res, hit, err = c.GetOrCompute(context.Background(), scope, parser.Parse("Checkpoint"), 10, compute)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if res.Query != "Checkpoint" {
		t.Errorf("cached Query = %q, want the caller's raw query", res.Query)
	}
	if calls.Load() != 1 {
		t.Errorf("compute called %d times, want 1", calls.Load())
	}

	// A new build changes the version and misses.
	_, hit, _ = c.GetOrCompute(context.Background(), Scope{Project: "client", Version: "def"}, plan, 10, compute)
	if hit {
		t.Error("entry from an older build was served")
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 2 || st.Circuit != "closed" {
		t.Errorf("Stats = %+v", st)
	}
}

func TestGetOrComputeConcurrentCallersKeepTheirQuery(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	scope := Scope{Project: "client", Version: "abc"}
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	compute := func(q string) func() (*executor.SearchResult, error) {
		return func() (*executor.SearchResult, error) {
			once.Do(func() { close(started) })
			<-release
			res := sampleResult(q)
			res.Highlight = parser.Parse(q).HighlightTerms
			return res, nil
		}
	}

	queries := []string{"checkpoint", "CHECKPOINT"}
	results := make([]*executor.SearchResult, len(queries))
	var wg sync.WaitGroup
	run := func(i int) {
		defer wg.Done()
		res, _, err := c.GetOrCompute(context.Background(), scope, parser.Parse(queries[i]), 10, compute(queries[i]))
		if err != nil {
			t.Errorf("GetOrCompute(%q): %v", queries[i], err)
			return
		}
		results[i] = res
	}
	wg.Add(2)
	go run(0)
	<-started
	go run(1)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, q := range queries {
		if results[i] == nil {
			continue
		}
		if results[i].Query != q {
			t.Errorf("result %d Query = %q, want %q", i, results[i].Query, q)
		}
		if want := parser.Parse(q).HighlightTerms; strings.Join(results[i].Highlight, ",") != strings.Join(want, ",") {
			t.Errorf("result %d Highlight = %v, want %v", i, results[i].Highlight, want)
		}
	}
}

func TestGetOrComputeError(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	want := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), Scope{Project: "client"}, parser.Parse("x"), 5,
		func() (*executor.SearchResult, error) { return nil, want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestBackendFailureDoesNotFailSearch(t *testing.T) {
	backend := newMemBackend()
	backend.fail = true
	c := New(backend, time.Minute)
	for i := 0; i < 7; i++ {
		res, hit, err := c.GetOrCompute(context.Background(), Scope{Project: "client"}, parser.Parse("harness"), 5,
			func() (*executor.SearchResult, error) { return sampleResult("harness"), nil })
		if err != nil || hit || res == nil {
			t.Fatalf("attempt %d: res=%v hit=%v err=%v", i, res, hit, err)
		}
	}
	if st := c.Stats(); st.Circuit != "open" || st.Errors == 0 {
		t.Errorf("Stats = %+v, want an open circuit", st)
	}
}

func TestMissesDoNotTripTheBreaker(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	for i := range 10 {
		if _, ok := c.Get(context.Background(), Scope{Project: "client", Version: "v1"}, parser.Parse("absent"), i+1); ok {
			t.Fatal("unexpected hit")
		}
	}
	st := c.Stats()
	if st.Circuit != "closed" || st.CircuitFailures != 0 || st.Errors != 0 || st.Misses != 10 {
		t.Errorf("Stats = %+v, want 10 clean misses", st)
	}
}

func TestInvalidate(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute)
	plan := parser.Parse("feedback")
	c.Set(context.Background(), Scope{Project: "client", Version: "v1"}, plan, 10, sampleResult("feedback"))
	c.Set(context.Background(), Scope{Project: "server", Version: "v1"}, plan, 10, sampleResult("feedback"))

	n, err := c.Invalidate(context.Background(), "client")
	if err != nil || n != 1 {
		t.Fatalf("Invalidate(client) = %d, %v", n, err)
	}
	n, err = c.Invalidate(context.Background(), "")
	if err != nil || n != 1 {
		t.Fatalf("Invalidate(all) = %d, %v", n, err)
	}
}

func TestBuildKey(t *testing.T) {
	plan := parser.Parse("protocol feedback")
	k := BuildKey(Scope{Project: "client", Version: "abc"}, plan, 10)
	if !strings.HasPrefix(k, "docsearch:client:abc:") {
		t.Errorf("key = %q", k)
	}
	if k != BuildKey(Scope{Project: "client", Version: "abc"}, parser.Parse("feedback  protocol"), 10) {
		t.Error("equivalent queries produced different keys")
	}
	if k == BuildKey(Scope{Project: "client", Version: "abc"}, plan, 20) {
		t.Error("limit does not change the key")
	}
	if all := BuildKey(Scope{Version: "abc"}, plan, 10); !strings.HasPrefix(all, "docsearch:_all:abc:") {
		t.Errorf("all-projects key = %q", all)
	}
}
