// Package retry provides a single retry-policy abstraction shared by the
// credential refresh scheduler and port adapters: bounded attempts,
// exponential backoff with jitter, and retryable-vs-terminal error
// classification.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nstoddard17/chainreact-core/backoff"
	"github.com/nstoddard17/chainreact-core/internal/nilcheck"
)

// ErrMaxAttemptsExceeded wraps the last error once every attempt is spent.
var ErrMaxAttemptsExceeded = errors.New("retry: max attempts exceeded")

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 200 * time.Millisecond
)

// Classifier decides whether an error is worth another attempt.
type Classifier interface {
	IsNonRetryable(err error) bool
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(err error) bool

// IsNonRetryable implements Classifier.
func (fn ClassifierFunc) IsNonRetryable(err error) bool {
	if fn == nil {
		return false
	}

	return fn(err)
}

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the backoff base; attempt n waits in [0, BaseDelay*2^n).
	BaseDelay time.Duration
	// MaxDelay caps an individual wait when positive.
	MaxDelay time.Duration
	// Classifier marks errors terminal. Nil means every error is retryable.
	Classifier Classifier
}

// DefaultPolicy returns the baseline retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
	}
}

func (p Policy) normalized() Policy {
	defaults := DefaultPolicy()

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}

	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.BaseDelay
	}

	return p
}

// Do runs fn until it succeeds, becomes terminal, exhausts the attempt
// budget, or the context is cancelled. The returned error wraps the last
// attempt's error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	policy := p.normalized()

	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry interrupted: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if policy.isNonRetryable(lastErr) {
			return lastErr
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := backoff.Cap(backoff.ExponentialWithJitter(policy.BaseDelay, attempt), policy.MaxDelay)
		if waitErr := backoff.WaitContext(ctx, delay); waitErr != nil {
			return fmt.Errorf("retry wait interrupted after %w: %w", lastErr, waitErr)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, policy.MaxAttempts, lastErr)
}

func (p Policy) isNonRetryable(err error) bool {
	if nilcheck.Interface(p.Classifier) {
		return false
	}

	return p.Classifier.IsNonRetryable(err)
}
