package purchases

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type sleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffPolicy bounds a retried operation: the first call plus
// extraAttempts retries, waiting baseDelay * 2^attempt (capped) between
// them.
type backoffPolicy struct {
	extraAttempts int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func (p backoffPolicy) delay(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	d := p.baseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.maxDelay > 0 && d >= p.maxDelay {
			return p.maxDelay
		}
	}
	if p.maxDelay > 0 && d > p.maxDelay {
		return p.maxDelay
	}
	return d
}

// withRetry runs fn until it succeeds or the policy is exhausted.
// Cancellation is never retried: once ctx is done the last error
// propagates immediately. The returned error always carries the
// operation name and the number of attempts made.
func withRetry[T any](ctx context.Context, sleep sleepFunc, policy backoffPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.extraAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, policy.delay(attempt-1)); err != nil {
				return zero, fmt.Errorf("%s canceled after %d attempts: %w", op, attempt, err)
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled after %d attempts: %w", op, attempt+1, err)
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, policy.extraAttempts+1, lastErr)
}
