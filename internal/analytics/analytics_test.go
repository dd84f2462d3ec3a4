package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/darpa-sail-on/docsearch/pkg/kafka"
)

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	events := []SearchEvent{
		NewSearchEvent("Checkpoint", "sail-on", nil, 9, 2, 2*time.Millisecond, false, ""),
		NewSearchEvent("checkpoint", "sail-on", nil, 9, 2, 4*time.Millisecond, true, ""),
		NewSearchEvent("xyzzy", "", nil, 0, 0, 1*time.Millisecond, false, ""),
		NewSearchEvent("protocol", "sail-on", nil, 35, 20, 3*time.Millisecond, false, ""),
	}
	for _, ev := range events {
		agg.Record(ev)
	}
	st := agg.Stats()

	if st.TotalSearches != 4 || st.CacheHits != 1 || st.CacheMisses != 3 || st.ZeroResultCount != 1 {
		t.Errorf("counters = %+v", st)
	}
	if st.AvgLatencyMs != 2.5 || st.P50LatencyMs != 2 || st.P99LatencyMs != 4 {
		t.Errorf("latency avg=%v p50=%v p99=%v", st.AvgLatencyMs, st.P50LatencyMs, st.P99LatencyMs)
	}
	wantTop := []QueryCount{{"checkpoint", 2}, {"protocol", 1}, {"xyzzy", 1}}
	if diff := cmp.Diff(wantTop, st.TopQueries); diff != "" {
		t.Errorf("top queries (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]QueryCount{{"xyzzy", 1}}, st.ZeroResultQueries); diff != "" {
		t.Errorf("zero-result queries (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int64{"sail-on": 3, "_all": 1}, st.SearchesByProject); diff != "" {
		t.Errorf("by project (-want +got):\n%s", diff)
	}
}

func TestAggregatorLatencyWindow(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < latencyWindow+10; i++ {
		agg.Record(SearchEvent{Query: "q", LatencyMs: 1})
	}
	if len(agg.latencies) != latencyWindow {
		t.Errorf("kept %d latencies, want %d", len(agg.latencies), latencyWindow)
	}
}

func TestAggregatorHandle(t *testing.T) {
	agg := NewAggregator()
	data, _ := json.Marshal(NewSearchEvent("save", "docs", []string{"save"}, 3, 3, time.Millisecond, false, "r1"))
	if err := agg.Handle(context.Background(), nil, data); err != nil {
		t.Fatal(err)
	}
	if err := agg.Handle(context.Background(), nil, []byte("garbage")); err != nil {
		t.Errorf("malformed event should be dropped, got %v", err)
	}
	if st := agg.Stats(); st.TotalSearches != 1 || st.TopQueries[0].Query != "save" {
		t.Errorf("stats = %+v", st)
	}
}

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (p *capturePublisher) Publish(ctx context.Context, ev kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{ev})
}

func (p *capturePublisher) PublishBatch(_ context.Context, evs []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]kafka.Event(nil), evs...))
	return p.err
}

func (p *capturePublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestCollectorFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewCollector(pub, 10)
	c.Start(context.Background())
	for i := 0; i < 5; i++ {
		c.Track(SearchEvent{Query: "q", Project: "docs"})
	}
	c.Close()
	if pub.total() != 5 {
		t.Errorf("published %d events, want 5", pub.total())
	}
	if pub.batches[0][0].Key != "docs" {
		t.Errorf("key = %q", pub.batches[0][0].Key)
	}
}

func TestCollectorTrackAfterClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewCollector(pub, 10)
	c.Start(context.Background())
	c.Close()
	c.Track(SearchEvent{Query: "late"})
	c.Close()
	if c.Dropped() != 1 || pub.total() != 0 {
		t.Errorf("dropped = %d, published = %d, want 1 and 0", c.Dropped(), pub.total())
	}
}

func TestCollectorDropsWhenFull(t *testing.T) {
	c := NewCollector(&capturePublisher{}, 2)
	for i := 0; i < 5; i++ {
		c.Track(SearchEvent{Query: "q"})
	}
	if c.Dropped() != 3 {
		t.Errorf("dropped = %d, want 3", c.Dropped())
	}
}

func TestCollectorSurvivesPublishErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	c := NewCollector(pub, 10)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	c.Track(SearchEvent{Query: "q"})
	cancel()
	<-c.done
	if pub.total() != 1 {
		t.Errorf("attempted %d events, want 1", pub.total())
	}
}

func TestLocalPublisher(t *testing.T) {
	agg := NewAggregator()
	c := NewCollector(NewLocalPublisher(agg), 10)
	c.Start(context.Background())
	c.Track(NewSearchEvent("run", "docs", nil, 4, 4, time.Millisecond, false, ""))
	c.Close()
	if agg.Stats().TotalSearches != 1 {
		t.Error("local publisher did not reach the aggregator")
	}
}

type fakeLister struct {
	snaps []Snapshot
	err   error
}

func (f fakeLister) ListSnapshots(context.Context, int) ([]Snapshot, error) { return f.snaps, f.err }

func TestHandler(t *testing.T) {
	agg := NewAggregator()
	agg.Record(SearchEvent{Query: "q"})

	rec := httptest.NewRecorder()
	NewHandler(agg, nil).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	var st AggregatedStats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil || st.TotalSearches != 1 {
		t.Fatalf("stats = %+v, err = %v", st, err)
	}

	rec = httptest.NewRecorder()
	NewHandler(agg, nil).Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled persistence status = %d", rec.Code)
	}

	h := NewHandler(agg, fakeLister{snaps: []Snapshot{{Stats: st}}})
	rec = httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots?limit=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
