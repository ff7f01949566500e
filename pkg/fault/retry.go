package fault

import (
	"context"
	"time"

	"github.com/grafana/dskit/backoff"
)

// Backoff returns the pause taken after the given failed attempt (1-based):
// attempt n sleeps base*n, so the schedule is non-decreasing and the total
// wall time is bounded by the caller's attempt cap.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}

// WithRetry re-invokes op on transient failures, up to maxAttempts total
// invocations. Non-transient errors return immediately. When attempts are
// exhausted the final error is preserved under KindTransientExhausted.
func WithRetry(ctx context.Context, maxAttempts int, base time.Duration, op func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !IsTransient(last) {
			return last
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(attempt, base)):
		}
	}

	return Wrap(KindTransientExhausted, last, "retries exhausted after %d attempts", maxAttempts)
}

// StreamingRetryConfig bounds retries of object-store streaming operations,
// where the exact schedule is not part of the test contract.
type StreamingRetryConfig struct {
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	MaxRetries int           `yaml:"max_retries"`
}

// WithStreamingRetry drives op with dskit's jittered exponential backoff.
// Used for object-store list/read faults; credential fetches use WithRetry so
// the schedule stays reproducible.
func WithStreamingRetry(ctx context.Context, cfg StreamingRetryConfig, op func(context.Context) error) error {
	boff := backoff.New(ctx, backoff.Config{
		MinBackoff: cfg.MinBackoff,
		MaxBackoff: cfg.MaxBackoff,
		MaxRetries: cfg.MaxRetries,
	})

	var last error
	for boff.Ongoing() {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !IsTransient(last) {
			return last
		}
		boff.Wait()
	}
	if last == nil {
		last = boff.Err()
	}
	return last
}
