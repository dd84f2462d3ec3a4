// Package resilience holds the fault-tolerance helpers shared by the
// optional backends: a circuit breaker for the query cache, retry with
// backoff for connection checks and lock polling, and deadline wrappers for
// per-project searches.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls when the breaker trips and how it recovers.
// Zero fields take defaults.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	// IsFailure decides which errors count against the backend. Nil counts
	// every non-nil error. Errors it rejects are still returned to the
	// caller.
	IsFailure func(error) bool
	// OnStateChange is called after every transition with the breaker
	// locked; it must not call back into the breaker.
	OnStateChange func(name string, to State)
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State               State         `json:"-"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RetryIn             time.Duration `json:"retry_in"`
}

// CircuitBreaker fails fast once a backend has failed FailureThreshold
// times in a row. After ResetTimeout it lets HalfOpenMaxRequests trial calls
// through; a success closes it again and a failure reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Execute runs fn unless the breaker is open and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// State returns the current state, moving an expired open breaker to
// half-open first.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	snap := Snapshot{State: cb.state, ConsecutiveFailures: cb.failures}
	if cb.state == StateOpen {
		snap.RetryIn = cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
	}
	return snap
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.trials = 0, 0
	cb.transition(StateClosed)
	cb.logger.Info("circuit reset")
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// expire moves an open breaker whose cool-down has passed to half-open.
func (cb *CircuitBreaker) expire() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.trials = 0
		cb.transition(StateHalfOpen)
		cb.logger.Info("circuit half-open, allowing trial calls", "after", cb.cfg.ResetTimeout)
	}
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		return fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
	case StateHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (trial calls in flight)", ErrCircuitOpen, cb.name)
		}
		cb.trials++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && cb.cfg.IsFailure(err) {
		cb.failures++
		switch {
		case cb.state == StateHalfOpen:
			cb.trip()
			cb.logger.Warn("circuit reopened, trial call failed", "error", err)
		case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
			cb.trip()
			cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures, "error", err)
		}
		return
	}
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.trials = 0
		cb.transition(StateClosed)
		cb.logger.Info("circuit closed, backend recovered")
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
