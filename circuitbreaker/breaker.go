package circuitbreaker

import (
	"context"
	"sync"
	"time"
)

// Breaker is a per-dependency failure state machine. A single mutex
// serializes all state mutations; the guarded function itself always runs
// outside the lock so a slow dependency never blocks unrelated bookkeeping.
type Breaker struct {
	name     string
	cfg      Config
	classify Classifier
	now      func() time.Time

	// onStateChange and onFailure are wired by the Registry; they must not
	// block (the registry fans out to listeners on separate goroutines).
	onStateChange func(name string, from, to State)
	onFailure     func(name string, err error)

	mu                   sync.Mutex
	state                State
	failureCount         uint32
	successCount         uint32
	totalRequests        uint32
	consecutiveSuccesses uint32
	halfOpenCalls        uint32
	lastFailure          time.Time
	lastSuccess          time.Time
	stateChangedAt       time.Time
	window               []outcomeRecord
	fallback             Fallback
}

type outcomeRecord struct {
	at      time.Time
	failure bool
}

// BreakerOption customizes a breaker at construction.
type BreakerOption func(*Breaker)

// WithClassifier replaces the default outcome classifier.
func WithClassifier(classify Classifier) BreakerOption {
	return func(b *Breaker) {
		if classify != nil {
			b.classify = classify
		}
	}
}

// WithFallback registers a substitute result producer used when the breaker
// rejects a call.
func WithFallback(fallback Fallback) BreakerOption {
	return func(b *Breaker) {
		b.fallback = fallback
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a closed breaker with the given name and configuration.
func New(name string, cfg Config, opts ...BreakerOption) *Breaker {
	cfg.normalize()

	breaker := &Breaker{
		name:     name,
		cfg:      cfg,
		classify: DefaultClassifier,
		now:      time.Now,
		state:    StateClosed,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(breaker)
		}
	}

	breaker.stateChangedAt = breaker.now()

	return breaker
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Call runs fn through the breaker. While the breaker is open and not yet
// eligible to probe, the call is rejected immediately with a
// *CircuitOpenError carrying current stats; if a fallback is registered its
// result is returned instead. The classified outcome of an admitted call is
// recorded after fn returns.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	rejection, notify := b.admit()
	if notify != nil {
		notify()
	}

	if rejection != nil {
		b.mu.Lock()
		fallback := b.fallback
		b.mu.Unlock()

		if fallback != nil {
			return fallback(ctx, rejection)
		}

		return nil, rejection
	}

	result, err := fn(ctx)

	b.record(err)

	return result, err
}

// admit decides whether a call may proceed, performing the lazy OPEN to
// HALF_OPEN transition and reserving a probe slot when half-open. The second
// return value is the pending state-change notification, if any.
func (b *Breaker) admit() (*CircuitOpenError, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.pruneWindowLocked(now)

	switch b.state {
	case StateOpen:
		if now.Sub(b.stateChangedAt) < b.cfg.OpenTimeout {
			return b.openErrorLocked(now), nil
		}

		notify := b.transitionLocked(StateHalfOpen, now)
		b.halfOpenCalls = 1

		return nil, notify
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			// Probe budget spent without closing; give the dependency
			// another full cooldown.
			notify := b.transitionLocked(StateOpen, now)

			return b.openErrorLocked(now), notify
		}

		b.halfOpenCalls++

		return nil, nil
	default:
		return nil, nil
	}
}

// record applies the classified outcome of one admitted call.
func (b *Breaker) record(callErr error) {
	outcome := b.classify(callErr)
	if outcome == OutcomeIgnore {
		return
	}

	var (
		notifyFailure func(string, error)
		notifyState   func()
	)

	b.mu.Lock()

	now := b.now()
	b.totalRequests++
	b.window = append(b.window, outcomeRecord{at: now, failure: outcome == OutcomeFailure})
	b.pruneWindowLocked(now)

	if outcome == OutcomeSuccess {
		b.successCount++
		b.consecutiveSuccesses++
		b.failureCount = 0
		b.lastSuccess = now

		if b.state == StateHalfOpen && b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			notifyState = b.transitionLocked(StateClosed, now)
		}
	} else {
		b.failureCount++
		b.consecutiveSuccesses = 0
		b.lastFailure = now
		notifyFailure = b.onFailure

		switch b.state {
		case StateHalfOpen:
			notifyState = b.transitionLocked(StateOpen, now)
		case StateClosed:
			if b.shouldTripLocked() {
				notifyState = b.transitionLocked(StateOpen, now)
			}
		}
	}

	b.mu.Unlock()

	if notifyState != nil {
		notifyState()
	}

	if notifyFailure != nil {
		notifyFailure(b.name, callErr)
	}
}

func (b *Breaker) shouldTripLocked() bool {
	if b.failureCount >= b.cfg.FailureThreshold {
		return true
	}

	if b.totalRequests < b.cfg.MinimumRequests {
		return false
	}

	return b.windowFailureRateLocked() >= b.cfg.FailureRateThreshold
}

func (b *Breaker) windowFailureRateLocked() float64 {
	if len(b.window) == 0 {
		return 0
	}

	failures := 0

	for _, rec := range b.window {
		if rec.failure {
			failures++
		}
	}

	return float64(failures) / float64(len(b.window))
}

func (b *Breaker) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.WindowSpan)

	idx := 0
	for idx < len(b.window) && b.window[idx].at.Before(cutoff) {
		idx++
	}

	if idx > 0 {
		b.window = append(b.window[:0], b.window[idx:]...)
	}

	if overflow := len(b.window) - b.cfg.WindowLimit; overflow > 0 {
		b.window = append(b.window[:0], b.window[overflow:]...)
	}
}

// transitionLocked moves the breaker to a new state and returns the
// state-change notification to fire once b.mu is released. The hook must
// never run under b.mu: the registry's handler takes its own locks and
// re-reads breaker state, so invoking it here would invert the lock order.
func (b *Breaker) transitionLocked(to State, now time.Time) func() {
	from := b.state
	if from == to {
		return nil
	}

	b.state = to
	b.stateChangedAt = now

	switch to {
	case StateClosed:
		b.failureCount = 0
		b.consecutiveSuccesses = 0
		b.halfOpenCalls = 0
	case StateHalfOpen:
		b.consecutiveSuccesses = 0
		b.halfOpenCalls = 0
	case StateOpen:
		b.halfOpenCalls = 0
	}

	if b.onStateChange == nil {
		return nil
	}

	notify := b.onStateChange

	return func() { notify(b.name, from, to) }
}

func (b *Breaker) openErrorLocked(now time.Time) *CircuitOpenError {
	retryAfter := b.cfg.OpenTimeout - now.Sub(b.stateChangedAt)
	if retryAfter < 0 {
		retryAfter = 0
	}

	return &CircuitOpenError{
		Name:       b.name,
		Stats:      b.statsLocked(),
		RetryAfter: retryAfter,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Stats returns a snapshot of the breaker's counters and window.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneWindowLocked(b.now())

	return b.statsLocked()
}

func (b *Breaker) statsLocked() Stats {
	return Stats{
		Name:                 b.name,
		State:                b.state,
		FailureCount:         b.failureCount,
		SuccessCount:         b.successCount,
		TotalRequests:        b.totalRequests,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailure:          b.lastFailure,
		LastSuccess:          b.lastSuccess,
		StateChangedAt:       b.stateChangedAt,
		WindowRequests:       len(b.window),
		WindowFailureRate:    b.windowFailureRateLocked(),
	}
}

// Reset forces the breaker back to closed and clears every counter.
func (b *Breaker) Reset() {
	b.mu.Lock()

	notify := b.transitionLocked(StateClosed, b.now())
	b.failureCount = 0
	b.successCount = 0
	b.totalRequests = 0
	b.consecutiveSuccesses = 0
	b.halfOpenCalls = 0
	b.window = b.window[:0]
	b.lastFailure = time.Time{}
	b.lastSuccess = time.Time{}

	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}
