package adapter

import (
	"context"
	"time"

	"github.com/tdalton/dbrecon/internal/logging"
)

// RetryPolicy bounds retries of transient adapter failures.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseBackoff time.Duration // doubled after each failure
}

// DefaultRetryPolicy matches the engine defaults: 3 attempts, 1s base.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Second}

// WithRetry runs fn, retrying transient failures with exponential backoff.
// Permanent errors and context cancellation are returned immediately.
// The final error is returned after the retry budget is exhausted.
func WithRetry(ctx context.Context, policy RetryPolicy, op string, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = DefaultRetryPolicy.BaseBackoff
	}

	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := policy.BaseBackoff << (attempt - 1)
			logging.Warn("Retry %d/%d for %s after %v (error: %v)",
				attempt, policy.MaxAttempts-1, op, backoff, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}
