package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
)

// Call runs fn under a deadline of d and returns its value. An overrun
// yields an error matching both apperrors.ErrTimeout and
// context.DeadlineExceeded; a cancelled parent is reported as such. A
// non-positive d runs fn without a deadline.
func Call[T any](ctx context.Context, d time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{v, err}
	}()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: cancelled: %w", name, err)
		}
		return zero, fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, d, context.DeadlineExceeded)
	}
}

// WithTimeout is Call for functions that only report an error.
func WithTimeout(ctx context.Context, d time.Duration, name string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, d, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
