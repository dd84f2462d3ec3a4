// Package cache stores search responses in Redis. Keys embed the checksum
// of the index build that produced them, so entries from a replaced build
// are never served and simply expire.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/darpa-sail-on/docsearch/internal/searcher/executor"
	"github.com/darpa-sail-on/docsearch/internal/searcher/parser"
	pkgredis "github.com/darpa-sail-on/docsearch/pkg/redis"
	"github.com/darpa-sail-on/docsearch/pkg/resilience"
)

const keyPrefix = "docsearch:"

// AllProjects is the key scope for queries spanning every project.
const AllProjects = "_all"

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Scope identifies the index build a response was computed from.
type Scope struct {
	Project string
	Version string
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

func New(backend Backend, ttl time.Duration) *QueryCache {
	return NewWithBreaker(backend, ttl, resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	})
}

// NewWithBreaker is New with explicit circuit breaker settings, e.g. to
// export state changes as a metric.
func NewWithBreaker(backend Backend, ttl time.Duration, cbCfg resilience.CircuitBreakerConfig) *QueryCache {
	if cbCfg.IsFailure == nil {
		cbCfg.IsFailure = backendFailure
	}
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("query-cache", cbCfg),
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, scope Scope, plan *parser.QueryPlan, limit int) (*executor.SearchResult, bool) {
	key := BuildKey(scope, plan, limit)
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		return err
	})
	if pkgredis.IsNilError(err) {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if data == "" {
		c.misses.Add(1)
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", plan.RawQuery, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, scope Scope, plan *parser.QueryPlan, limit int, result *executor.SearchResult) {
	key := BuildKey(scope, plan, limit)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// backendFailure counts errors that say Redis is unhealthy. Missing keys and
// searches abandoned by their caller do not.
func backendFailure(err error) bool {
	return err != nil && !pkgredis.IsNilError(err) && !errors.Is(err, context.Canceled)
}

// GetOrCompute serves from the cache or runs computeFn once per key, even
// when many requests miss at the same time. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	scope Scope,
	plan *parser.QueryPlan,
	limit int,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, scope, plan, limit); ok {
		return forPlan(result, plan), true, nil
	}
	key := BuildKey(scope, plan, limit)
	val, err, shared := c.group.Do(key, func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, scope, plan, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	result := val.(*executor.SearchResult)
	if shared {
		result = forPlan(result, plan)
	}
	return result, false, nil
}

// forPlan copies a result computed for another query that normalizes alike
// and stamps it with the caller's raw query and highlight words.
func forPlan(result *executor.SearchResult, plan *parser.QueryPlan) *executor.SearchResult {
	copied := *result
	copied.Query = plan.RawQuery
	copied.Highlight = plan.HighlightTerms
	return &copied
}

// Invalidate drops the entries of project, or of every project when project
// is empty.
func (c *QueryCache) Invalidate(ctx context.Context, project string) (int64, error) {
	pattern := keyPrefix + "*"
	if project != "" {
		pattern = keyPrefix + project + ":*"
	}
	deleted, err := c.backend.FlushByPattern(ctx, pattern)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "pattern", pattern, "keys_deleted", deleted)
	return deleted, nil
}

type Stats struct {
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	Errors          int64   `json:"errors"`
	HitRate         float64 `json:"hit_rate"`
	Circuit         string  `json:"circuit"`
	CircuitFailures int     `json:"circuit_failures"`
}

func (c *QueryCache) Stats() Stats {
	cb := c.breaker.Snapshot()
	st := Stats{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Errors:          c.errors.Load(),
		Circuit:         cb.State.String(),
		CircuitFailures: cb.ConsecutiveFailures,
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// BuildKey is docsearch:<project>:<version>:<hash of normalized query and limit>.
func BuildKey(scope Scope, plan *parser.QueryPlan, limit int) string {
	project := scope.Project
	if project == "" {
		project = AllProjects
	}
	raw := fmt.Sprintf("%s:limit=%d", plan.Normalized(), limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%s:%x", keyPrefix, project, scope.Version, hash[:16])
}
