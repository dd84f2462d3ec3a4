// Package health answers liveness and readiness probes. Index availability
// is registered as critical; optional backends such as the Redis cache and
// PostgreSQL history only degrade the instance when they fail, because
// search keeps working without them.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darpa-sail-on/docsearch/pkg/resilience"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status   Status `json:"status"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// Report is the outcome of one readiness run. Status is the worst component
// status, with failures of non-critical components capped at degraded.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type registration struct {
	check    Check
	critical bool
}

// Checker runs the registered checks concurrently, each under its own
// deadline.
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]registration
	checkTimeout time.Duration
	logger       *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks:       make(map[string]registration),
		checkTimeout: 2 * time.Second,
		logger:       slog.Default().With("component", "health"),
	}
}

// Register adds an optional dependency: when it fails the instance is
// degraded but stays ready.
func (c *Checker) Register(name string, check Check) {
	c.register(name, check, false)
}

// RegisterCritical adds a dependency without which the instance cannot
// answer searches.
func (c *Checker) RegisterCritical(name string, check Check) {
	c.register(name, check, true)
}

func (c *Checker) register(name string, check Check, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registration{check: check, critical: critical}
}

func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	regs := make(map[string]registration, len(c.checks))
	for name, reg := range c.checks {
		names = append(names, name)
		regs[name] = reg
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make([]ComponentHealth, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i] = c.runOne(ctx, name, regs[name])
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(names)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i, name := range names {
		comp := results[i]
		report.Components[name] = comp
		effective := comp.Status
		if !comp.Critical && effective == StatusDown {
			effective = StatusDegraded
		}
		if effective.rank() > report.Status.rank() {
			report.Status = effective
		}
		if comp.Status != StatusUp {
			c.logger.Warn("health check not up", "check", name, "status", comp.Status, "critical", comp.Critical, "message", comp.Message)
		}
	}
	return report
}

func (c *Checker) runOne(ctx context.Context, name string, reg registration) ComponentHealth {
	start := time.Now()
	comp, err := resilience.Call(ctx, c.checkTimeout, "health check "+name, func(ctx context.Context) (ComponentHealth, error) {
		return reg.check(ctx), nil
	})
	if err != nil {
		comp = ComponentHealth{Status: StatusDown, Message: err.Error()}
	}
	comp.Critical = reg.critical
	comp.Latency = time.Since(start).Round(time.Millisecond).String()
	return comp
}

// Ping adapts a ping function: up when it succeeds, down otherwise.
func Ping(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// LiveHandler reports that the process is serving HTTP.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 503 only when the report is down, so a degraded
// instance keeps receiving traffic.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}
