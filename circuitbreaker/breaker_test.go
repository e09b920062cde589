package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDependency = errors.New("dependency exploded")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		FailureThreshold:     3,
		FailureRateThreshold: 0.5,
		MinimumRequests:      100, // keep rate tripping out of threshold tests
		SuccessThreshold:     2,
		HalfOpenMaxCalls:     3,
		OpenTimeout:          10 * time.Second,
		WindowSpan:           time.Minute,
		WindowLimit:          64,
	}
}

func fail(context.Context) (any, error)    { return nil, errDependency }
func succeed(context.Context) (any, error) { return "ok", nil }

func tripOpen(t *testing.T, breaker *Breaker) {
	t.Helper()

	for range 3 {
		_, err := breaker.Call(context.Background(), fail)
		require.ErrorIs(t, err, errDependency)
	}

	require.Equal(t, StateOpen, breaker.State())
}

func TestBreaker_StartsClosed(t *testing.T) {
	t.Parallel()

	breaker := New("svc", testConfig())

	assert.Equal(t, StateClosed, breaker.State())

	result, err := breaker.Call(context.Background(), succeed)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	t.Parallel()

	breaker := New("svc", testConfig())

	for i := range 2 {
		_, err := breaker.Call(context.Background(), fail)
		require.ErrorIs(t, err, errDependency)
		assert.Equal(t, StateClosed, breaker.State(), "still closed after %d failures", i+1)
	}

	_, err := breaker.Call(context.Background(), fail)
	require.ErrorIs(t, err, errDependency)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	breaker := New("svc", testConfig())

	for range 2 {
		_, _ = breaker.Call(context.Background(), fail)
	}

	_, err := breaker.Call(context.Background(), succeed)
	require.NoError(t, err)

	for range 2 {
		_, _ = breaker.Call(context.Background(), fail)
	}

	assert.Equal(t, StateClosed, breaker.State(), "failure count should have reset on success")
}

func TestBreaker_RejectsWhileOpen(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	breaker := New("svc", testConfig(), WithClock(clock.Now))

	tripOpen(t, breaker)

	clock.Advance(9 * time.Second) // still inside the cooldown

	called := false
	_, err := breaker.Call(context.Background(), func(context.Context) (any, error) {
		called = true
		return nil, nil
	})

	require.Error(t, err)
	assert.False(t, called, "guarded function must not run while open")

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "svc", openErr.Name)
	assert.Equal(t, StateOpen, openErr.Stats.State)
	assert.Equal(t, uint32(3), openErr.Stats.FailureCount)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
}

func TestBreaker_ProbesAfterTimeout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	breaker := New("svc", testConfig(), WithClock(clock.Now))

	tripOpen(t, breaker)
	clock.Advance(10 * time.Second)

	_, err := breaker.Call(context.Background(), succeed)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, breaker.State())
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	breaker := New("svc", testConfig(), WithClock(clock.Now))

	tripOpen(t, breaker)
	clock.Advance(10 * time.Second)

	_, err := breaker.Call(context.Background(), succeed)
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, breaker.State())

	_, err = breaker.Call(context.Background(), succeed)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	breaker := New("svc", testConfig(), WithClock(clock.Now))

	tripOpen(t, breaker)
	clock.Advance(10 * time.Second)

	_, err := breaker.Call(context.Background(), fail)
	require.ErrorIs(t, err, errDependency)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreaker_HalfOpenBudgetExhaustionReopens(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	breaker := New("svc", testConfig(), WithClock(clock.Now))

	tripOpen(t, breaker)
	clock.Advance(10 * time.Second)

	// Cancelled probes consume the half-open budget without ever counting
	// as successes, so the breaker cannot reach its success threshold.
	for range 3 {
		_, err := breaker.Call(context.Background(), func(context.Context) (any, error) {
			return nil, context.Canceled
		})
		require.ErrorIs(t, err, context.Canceled)
	}

	require.Equal(t, StateHalfOpen, breaker.State())

	_, err := breaker.Call(context.Background(), succeed)
	require.Error(t, err)

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreaker_WindowedFailureRateTrips(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.FailureThreshold = 1000 // only the rate rule can trip
	cfg.MinimumRequests = 10
	cfg.FailureRateThreshold = 0.5

	breaker := New("svc", cfg)

	for range 5 {
		_, _ = breaker.Call(context.Background(), succeed)
	}

	// Four failures leave the windowed rate at 4/9; the breaker must hold.
	for range 4 {
		_, _ = breaker.Call(context.Background(), fail)
		require.Equal(t, StateClosed, breaker.State())
	}

	// The fifth failure reaches 5/10 = 0.5 with MinimumRequests satisfied.
	_, _ = breaker.Call(context.Background(), fail)

	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreaker_WindowPrunesOldOutcomes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cfg := testConfig()
	cfg.WindowSpan = 30 * time.Second

	breaker := New("svc", cfg, WithClock(clock.Now))

	for range 2 {
		_, _ = breaker.Call(context.Background(), fail)
	}

	require.Equal(t, 2, breaker.Stats().WindowRequests)

	clock.Advance(time.Minute)

	assert.Zero(t, breaker.Stats().WindowRequests)
	assert.Equal(t, float64(0), breaker.Stats().WindowFailureRate)
}

func TestBreaker_ClassifierIgnore(t *testing.T) {
	t.Parallel()

	notFound := errors.New("not found")
	classify := func(err error) Outcome {
		switch {
		case err == nil:
			return OutcomeSuccess
		case errors.Is(err, notFound):
			return OutcomeIgnore
		default:
			return OutcomeFailure
		}
	}

	breaker := New("svc", testConfig(), WithClassifier(classify))

	for range 10 {
		_, err := breaker.Call(context.Background(), func(context.Context) (any, error) {
			return nil, notFound
		})
		require.ErrorIs(t, err, notFound)
	}

	stats := breaker.Stats()
	assert.Equal(t, StateClosed, breaker.State())
	assert.Zero(t, stats.TotalRequests, "ignored outcomes must not touch counters")
	assert.Zero(t, stats.FailureCount)
}

func TestBreaker_DefaultClassifierIgnoresCancellation(t *testing.T) {
	t.Parallel()

	breaker := New("svc", testConfig())

	for range 5 {
		_, _ = breaker.Call(context.Background(), func(context.Context) (any, error) {
			return nil, context.Canceled
		})
	}

	assert.Equal(t, StateClosed, breaker.State())
	assert.Zero(t, breaker.Stats().TotalRequests)
}

func TestBreaker_FallbackWhileOpen(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	breaker := New("svc", testConfig(),
		WithClock(clock.Now),
		WithFallback(func(_ context.Context, cause *CircuitOpenError) (any, error) {
			return "cached", nil
		}),
	)

	tripOpen(t, breaker)

	result, err := breaker.Call(context.Background(), succeed)
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
}

func TestBreaker_CountersNeverNegative(t *testing.T) {
	t.Parallel()

	breaker := New("svc", testConfig())

	_, _ = breaker.Call(context.Background(), succeed)
	_, _ = breaker.Call(context.Background(), fail)
	breaker.Reset()

	stats := breaker.Stats()
	assert.Zero(t, stats.FailureCount)
	assert.Zero(t, stats.SuccessCount)
	assert.Zero(t, stats.TotalRequests)
	assert.Equal(t, StateClosed, stats.State)
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	breaker := New("svc", Config{
		FailureThreshold: 10_000,
		MinimumRequests:  100_000,
		SuccessThreshold: 2,
		HalfOpenMaxCalls: 2,
		OpenTimeout:      time.Second,
		WindowSpan:       time.Minute,
		WindowLimit:      100_000,
	})

	var wg sync.WaitGroup

	for i := range 100 {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			if i%2 == 0 {
				_, _ = breaker.Call(context.Background(), succeed)
			} else {
				_, _ = breaker.Call(context.Background(), fail)
			}
		}(i)
	}

	wg.Wait()

	stats := breaker.Stats()
	assert.Equal(t, uint32(100), stats.TotalRequests)
	assert.Equal(t, uint32(50), stats.SuccessCount)
}

func TestBreaker_StateChangeHookRunsOutsideMutex(t *testing.T) {
	t.Parallel()

	breaker := New("svc", testConfig())

	var (
		mu       sync.Mutex
		observed []State
	)

	// A hook that re-enters the breaker would self-deadlock if the
	// notification fired while the breaker mutex was still held.
	breaker.onStateChange = func(_ string, _, _ State) {
		mu.Lock()
		observed = append(observed, breaker.State())
		mu.Unlock()
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		for range 3 {
			_, _ = breaker.Call(context.Background(), fail)
		}

		breaker.Reset()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("state change notification held the breaker mutex")
	}

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []State{StateOpen, StateClosed}, observed)
}
