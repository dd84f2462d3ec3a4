// Package analytics tracks search traffic: the searcher emits one
// SearchEvent per query, events travel through Kafka (or stay in process),
// and the Aggregator keeps top queries, zero-result queries and latency
// percentiles.
package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
)

type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Project   string    `json:"project,omitempty"`
	Terms     []string  `json:"terms,omitempty"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs float64   `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// NewSearchEvent fills Type from the hit count.
func NewSearchEvent(query, project string, terms []string, totalHits, returned int, latency time.Duration, cacheHit bool, requestID string) SearchEvent {
	typ := EventSearch
	if totalHits == 0 {
		typ = EventZeroResult
	}
	return SearchEvent{
		Type:      typ,
		Query:     query,
		Project:   project,
		Terms:     terms,
		TotalHits: totalHits,
		Returned:  returned,
		LatencyMs: float64(latency.Microseconds()) / 1000,
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}
