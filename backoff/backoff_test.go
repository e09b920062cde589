package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{name: "attempt 0 returns base", base: 100 * time.Millisecond, attempt: 0, expected: 100 * time.Millisecond},
		{name: "attempt 1 doubles base", base: 100 * time.Millisecond, attempt: 1, expected: 200 * time.Millisecond},
		{name: "attempt 3 is 8x base", base: 100 * time.Millisecond, attempt: 3, expected: 800 * time.Millisecond},
		{name: "negative attempt treated as 0", base: 50 * time.Millisecond, attempt: -2, expected: 50 * time.Millisecond},
		{name: "zero base returns zero", base: 0, attempt: 5, expected: 0},
		{name: "overflow saturates", base: time.Hour, attempt: 62, expected: time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestFullJitter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), FullJitter(0))
	assert.Equal(t, time.Duration(0), FullJitter(-time.Second))

	for range 100 {
		jittered := FullJitter(time.Second)
		assert.GreaterOrEqual(t, jittered, time.Duration(0))
		assert.Less(t, jittered, time.Second)
	}
}

func TestExponentialWithJitter(t *testing.T) {
	t.Parallel()

	for attempt := range 5 {
		jittered := ExponentialWithJitter(10*time.Millisecond, attempt)
		assert.GreaterOrEqual(t, jittered, time.Duration(0))
		assert.Less(t, jittered, Exponential(10*time.Millisecond, attempt))
	}
}

func TestCap(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, Cap(2*time.Second, time.Second))
	assert.Equal(t, 500*time.Millisecond, Cap(500*time.Millisecond, time.Second))
	assert.Equal(t, 2*time.Second, Cap(2*time.Second, 0))
}

func TestWaitContext(t *testing.T) {
	t.Parallel()

	t.Run("completes for short duration", func(t *testing.T) {
		t.Parallel()

		require.NoError(t, WaitContext(context.Background(), time.Millisecond))
	})

	t.Run("returns immediately for zero duration", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.NoError(t, WaitContext(ctx, 0))
	})

	t.Run("respects cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := WaitContext(ctx, time.Minute)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
