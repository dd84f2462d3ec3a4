package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
)

// RetryConfig shapes the backoff of Retry. Zero fields take defaults.
type RetryConfig struct {
	// MaxAttempts caps the number of calls. When zero and MaxElapsed is
	// set, attempts are bounded by MaxElapsed alone.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier of 1 gives a fixed polling interval.
	Multiplier float64
	// JitterFraction spreads each delay by ±fraction; negative disables it.
	JitterFraction float64
	// MaxElapsed stops retrying once the next attempt would start after it.
	MaxElapsed time.Duration
	// Retryable classifies failures; nil means IsRetryable.
	Retryable func(error) bool
	// Quiet logs intermediate failures at debug instead of warn, for
	// polling loops where a failed attempt is expected.
	Quiet bool
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether err may clear up on a later attempt. Errors
// marked Permanent, caller cancellation and errors about the request or the
// index content itself are final.
func IsRetryable(err error) bool {
	var perm *permanentError
	switch {
	case errors.As(err, &perm),
		errors.Is(err, context.Canceled),
		errors.Is(err, apperrors.ErrMalformedIndex),
		errors.Is(err, apperrors.ErrProjectNotFound),
		errors.Is(err, apperrors.ErrObjectNotFound),
		errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, apperrors.ErrUnauthorized),
		errors.Is(err, apperrors.ErrBackendDisabled):
		return false
	}
	return true
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// attempt or time budget in cfg runs out. The last error stays in the chain.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	defaults := defaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		if cfg.MaxElapsed > 0 {
			cfg.MaxAttempts = math.MaxInt
		} else {
			cfg.MaxAttempts = defaults.MaxAttempts
		}
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.JitterFraction == 0 {
		cfg.JitterFraction = defaults.JitterFraction
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	logger := slog.Default().With("component", "retry", "operation", name)
	level := slog.LevelWarn
	if cfg.Quiet {
		level = slog.LevelDebug
	}

	start := time.Now()
	var lastErr error
	attempt := 1
	for ; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !retryable(lastErr) {
			var perm *permanentError
			if errors.As(lastErr, &perm) {
				return perm.err
			}
			return lastErr
		}
		if attempt >= cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay := computeDelay(attempt, cfg)
		if cfg.MaxElapsed > 0 && time.Since(start)+delay > cfg.MaxElapsed {
			break
		}
		logger.Log(ctx, level, "operation failed, retrying", "attempt", attempt, "error", lastErr, "next_delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempt, lastErr)
}

func computeDelay(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.JitterFraction > 0 {
		backoff += backoff * cfg.JitterFraction * (2*rand.Float64() - 1)
	}
	if backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}
	if backoff < 0 {
		backoff = float64(cfg.InitialDelay)
	}
	return time.Duration(backoff)
}
