package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fipe/lookup/internal/domain"
)

// MaxAttempts is the total number of tries for one logical fetch.
const MaxAttempts = 3

// RetryPolicy bounds a retried operation.
type RetryPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
	Retryable   func(err error) bool
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Backoff returns base * 2^(attempt-2) for attempt >= 2, zero before.
func Backoff(base time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 2 {
			return 0
		}
		return base << (attempt - 2)
	}
}

// Retry runs op until it succeeds, fails with a non-retryable error or the
// attempt budget is spent. It returns the number of attempts made.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context, attempt domain.RequestAttempt) (T, error)) (T, int, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		attempt := domain.RequestAttempt{Number: n}
		if n > 1 && p.Delay != nil {
			attempt.DelayBefore = p.Delay(n)
		}

		if attempt.DelayBefore > 0 {
			if err := sleep(ctx, attempt.DelayBefore); err != nil {
				return zero, n - 1, err
			}
		}

		result, err := op(ctx, attempt)
		if err == nil {
			return result, n, nil
		}
		lastErr = err

		if p.Retryable == nil || !p.Retryable(err) {
			return zero, n, err
		}
	}

	return zero, maxAttempts, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTooManyRequests(err error) bool {
	var statusErr *httpStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests
}
