package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State represents the breaker position.
type State string

const (
	// StateClosed lets calls through and tallies outcomes.
	StateClosed State = "closed"
	// StateOpen rejects calls until the open timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen lets a bounded number of probe calls through.
	StateHalfOpen State = "half-open"
	// StateUnknown is reported for breakers the registry does not know.
	StateUnknown State = "unknown"
)

// Outcome is the classified result of one guarded call.
type Outcome int

const (
	// OutcomeSuccess counts toward recovery.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure counts toward tripping.
	OutcomeFailure
	// OutcomeIgnore leaves every counter untouched.
	OutcomeIgnore
)

// Classifier reclassifies a call error before it affects breaker counters.
// A "not found" response from a dependency, for example, is not a
// dependency failure.
type Classifier func(err error) Outcome

// DefaultClassifier treats nil as success, context cancellation as ignored
// (the caller gave up; the dependency is not at fault), and everything else
// as failure.
func DefaultClassifier(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled):
		return OutcomeIgnore
	default:
		return OutcomeFailure
	}
}

// Fallback produces a substitute result when the breaker rejects a call.
type Fallback func(ctx context.Context, cause *CircuitOpenError) (any, error)

// Stats is a point-in-time snapshot of one breaker.
type Stats struct {
	Name                 string
	State                State
	FailureCount         uint32
	SuccessCount         uint32
	TotalRequests        uint32
	ConsecutiveSuccesses uint32
	LastFailure          time.Time
	LastSuccess          time.Time
	StateChangedAt       time.Time
	WindowRequests       int
	WindowFailureRate    float64
}

// CircuitOpenError is returned when a call is rejected because the breaker
// is open (or the half-open probe budget is exhausted). It carries the
// breaker snapshot so callers and logs get a complete accounting.
type CircuitOpenError struct {
	Name       string
	Stats      Stats
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s: request rejected (retry after %s)", e.Name, e.Stats.State, e.RetryAfter)
}

// StateChangeListener is notified when a circuit breaker changes state.
type StateChangeListener interface {
	OnStateChange(name string, from State, to State)
}

// FailureListener is notified on every failure-classified outcome.
type FailureListener interface {
	OnFailure(name string, err error)
}
