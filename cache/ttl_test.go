package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTL_SetGet(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](time.Minute)
	c.Set("a", 1)

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTL_Expiry(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, string](time.Minute)

	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set("k", "v")

	_, ok := c.Get("k")
	assert.True(t, ok)

	current = current.Add(2 * time.Minute)

	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry should be evicted on read")
}

func TestTTL_Invalidate(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](time.Minute)
	c.Set("a", 1)
	c.Invalidate("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTL_Purge(t *testing.T) {
	t.Parallel()

	c := NewTTL[int, int](time.Minute)
	c.Set(1, 1)
	c.Set(2, 2)
	c.Purge()

	assert.Zero(t, c.Len())
}

func TestTTL_DisabledWhenNonPositive(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](0)
	c.Set("a", 1)

	_, ok := c.Get("a")
	assert.False(t, ok)
}
