// Package backoff provides exponential backoff with jitter for retry loops
// and rate-limit pauses.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential calculates the delay for a given attempt as base * 2^attempt
// with overflow protection. Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt

	baseInt := int64(base)
	if baseInt > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(baseInt * multiplier)
}

// FullJitter returns a random duration in the range [0, delay).
// Returns 0 for zero or negative delays.
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(delay))) // #nosec G404 -- jitter does not need crypto randomness
}

// ExponentialWithJitter combines exponential backoff with full jitter,
// returning a random duration in [0, base * 2^attempt). This is the
// "Full Jitter" strategy recommended by AWS.
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	return FullJitter(Exponential(base, attempt))
}

// Cap bounds a delay to maxDelay when maxDelay is positive.
func Cap(delay, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}

	return delay
}

// WaitContext sleeps for the specified duration but respects context
// cancellation. Returns nil when the sleep completes, or the context error
// if the context is cancelled first. Returns immediately for zero or
// negative durations.
func WaitContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
