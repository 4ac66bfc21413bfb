package resilience

import (
	"context"
	"errors"
	"time"
)

// ExecuteWithTimeout runs op under a deadline. It returns op's error,
// or ErrTimeout when the deadline expires first. The operation keeps
// running in the background after a timeout; it must honor its context.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}
