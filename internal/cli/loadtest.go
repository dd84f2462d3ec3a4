package cli

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/internal/searcher/handler"
	"github.com/darpa-sail-on/docsearch/internal/searchindex"
)

type loadConfig struct {
	BaseURL     string
	Project     string
	Concurrency int
	Duration    time.Duration
	Limit       int
	Queries     []string
}

type loadStats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies:   make([]time.Duration, 0, 1024),
		statusCodes: make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, status int, cacheHit bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[status]++
	s.mu.Unlock()
}

func newLoadtestCommand() *cobra.Command {
	var (
		cfg       loadConfig
		queries   []string
		fromIndex string
	)
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive concurrent searches against a running server and report latency",
		Example: `  docsearch loadtest --url http://localhost:8080 --from-index searchindex.js -c 20 -d 1m
  docsearch loadtest -q checkpoint -q "save attributes" --project sail-on`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Queries = queries
			if fromIndex != "" {
				idx, err := searchindex.Load(fromIndex)
				if err != nil {
					return err
				}
				cfg.Queries = append(cfg.Queries, titleQueries(idx)...)
			}
			if len(cfg.Queries) == 0 {
				return fmt.Errorf("no queries: pass --query or --from-index")
			}
			if cfg.Concurrency <= 0 {
				return fmt.Errorf("--concurrency must be positive")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target:      %s\n", cfg.BaseURL)
			fmt.Fprintf(out, "concurrency: %d\n", cfg.Concurrency)
			fmt.Fprintf(out, "duration:    %s\n", cfg.Duration)
			fmt.Fprintf(out, "queries:     %d unique\n\n", len(cfg.Queries))

			client := &http.Client{
				Timeout: 10 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        cfg.Concurrency * 2,
					MaxIdleConnsPerHost: cfg.Concurrency * 2,
					IdleConnTimeout:     90 * time.Second,
				},
			}
			stats := runLoad(cmd.Context(), client, cfg)
			printLoadReport(out, stats, cfg.Duration)
			if stats.total.Load() == 0 {
				return fmt.Errorf("no requests completed; is the server running?")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of the search API")
	cmd.Flags().StringVar(&cfg.Project, "project", "", "restrict searches to one project")
	cmd.Flags().IntVarP(&cfg.Concurrency, "concurrency", "c", 10, "number of concurrent workers")
	cmd.Flags().DurationVarP(&cfg.Duration, "duration", "d", 30*time.Second, "test duration")
	cmd.Flags().IntVar(&cfg.Limit, "limit", 10, "results per search")
	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "query to send (repeatable)")
	cmd.Flags().StringVar(&fromIndex, "from-index", "", "derive queries from the page titles of an index file")
	return cmd
}

// titleQueries turns page titles into lowercase queries, one per distinct
// title.
func titleQueries(idx *searchindex.Index) []string {
	seen := make(map[string]bool, len(idx.Titles))
	var out []string
	for _, t := range idx.Titles {
		q := strings.ToLower(strings.Join(strings.Fields(t), " "))
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func searchURL(cfg loadConfig, query string) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("limit", strconv.Itoa(cfg.Limit))
	if cfg.Project != "" {
		v.Set("project", cfg.Project)
	}
	return strings.TrimRight(cfg.BaseURL, "/") + "/api/v1/search?" + v.Encode()
}

func runLoad(ctx context.Context, client *http.Client, cfg loadConfig) *loadStats {
	stats := newLoadStats()
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(next int) {
			defer wg.Done()
			for ctx.Err() == nil {
				query := cfg.Queries[next%len(cfg.Queries)]
				next++

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL(cfg, query), nil)
				if err != nil {
					stats.record(0, 0, false, err)
					return
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.record(elapsed, 0, false, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(elapsed, resp.StatusCode, resp.Header.Get(handler.CacheHeader) == "hit", nil)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func printLoadReport(w io.Writer, stats *loadStats, duration time.Duration) {
	total := stats.total.Load()
	fmt.Fprintln(w, "requests:")
	fmt.Fprintf(w, "  total:      %d\n", total)
	fmt.Fprintf(w, "  successful: %d\n", stats.success.Load())
	fmt.Fprintf(w, "  errors:     %d\n", stats.errors.Load())
	fmt.Fprintf(w, "  cache hits: %d\n", stats.cacheHits.Load())
	if total > 0 {
		fmt.Fprintf(w, "  error rate: %.2f%%\n", float64(stats.errors.Load())/float64(total)*100)
		fmt.Fprintf(w, "  req/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	latencies := append([]time.Duration(nil), stats.latencies...)
	counts := make(map[int]int64, len(stats.statusCodes))
	codes := make([]int, 0, len(stats.statusCodes))
	for code, n := range stats.statusCodes {
		counts[code] = n
		codes = append(codes, code)
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			d := float64(l - avg)
			sq += d * d
		}
		fmt.Fprintln(w, "\nlatency:")
		fmt.Fprintf(w, "  min:    %s\n", latencies[0])
		fmt.Fprintf(w, "  avg:    %s\n", avg)
		fmt.Fprintf(w, "  p50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "  p90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(w, "  p99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "  max:    %s\n", latencies[len(latencies)-1])
		fmt.Fprintf(w, "  stddev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	sort.Ints(codes)
	fmt.Fprintln(w, "\nstatus codes:")
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, counts[code])
	}
}

// percentile picks the nearest-rank value from sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}
