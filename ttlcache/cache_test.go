package ttlcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestGetSetAndExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := New[string, int](time.Minute, withClock[string, int](clock.now))

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	clock.t = clock.t.Add(2 * time.Minute)
	_, ok = c.Get("a")
	require.False(t, ok, "entry should have expired")
	require.Equal(t, 0, c.Len())
}

func TestAccessRefresh(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := New[string, int](time.Minute, WithAccessRefresh[string, int](), withClock[string, int](clock.now))

	c.Set("a", 1)
	clock.t = clock.t.Add(50 * time.Second)
	_, ok := c.Get("a")
	require.True(t, ok)

	clock.t = clock.t.Add(50 * time.Second) // 100s total, but refreshed at 50s
	_, ok = c.Get("a")
	require.True(t, ok, "access-refresh should have extended the TTL")
}

func TestDelete(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Set("a", 1)
	c.Delete("a")
	_, ok := c.Get("a")
	require.False(t, ok)
}
