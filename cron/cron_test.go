package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DailyMidnight(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 0 * * *")
	require.NoError(t, err)

	from := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	next, err := sched.Next(from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC), next)
}

func TestParse_EveryFiveMinutes(t *testing.T) {
	t.Parallel()

	sched, err := Parse("*/5 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 1, 15, 10, 3, 0, 0, time.UTC)
	next, err := sched.Next(from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 5, 0, 0, time.UTC), next)
}

func TestParse_HourRangeWrapsToNextDay(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 9-17 * * *")
	require.NoError(t, err)

	from := time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)
	next, err := sched.Next(from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 16, 9, 0, 0, 0, time.UTC), next)
}

func TestParse_Lists(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 6,12,18 * * *")
	require.NoError(t, err)

	from := time.Date(2026, 1, 15, 7, 0, 0, 0, time.UTC)
	next, err := sched.Next(from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), next)
}

func TestParse_EveryMonday(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 0 * * 1")
	require.NoError(t, err)

	from := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	next, err := sched.Next(from)

	require.NoError(t, err)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 0, next.Hour())
	assert.True(t, next.After(from))
}

func TestParse_StepWithStart(t *testing.T) {
	t.Parallel()

	sched, err := Parse("10/20 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 1, 15, 10, 31, 0, 0, time.UTC)
	next, err := sched.Next(from)

	require.NoError(t, err)
	assert.Equal(t, 50, next.Minute())
}

func TestParse_MonthRollover(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 0 15 2 *")
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	next, err := sched.Next(from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 2, 15, 0, 0, 0, 0, time.UTC), next)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
	}{
		{name: "empty", expr: ""},
		{name: "too few fields", expr: "* * *"},
		{name: "minute out of range", expr: "60 * * * *"},
		{name: "hour out of range", expr: "* 24 * * *"},
		{name: "inverted range", expr: "30-10 * * * *"},
		{name: "bad step", expr: "*/0 * * * *"},
		{name: "garbage", expr: "a b c d e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tt.expr)
			assert.ErrorIs(t, err, ErrInvalidExpression)
		})
	}
}
