package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestCacheExpires(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := New[[]string](WithCleanup(0), WithClock(clock.Now))
	defer c.Close()

	c.Set("7", []string{"user:read"}, 5*time.Second)

	got, ok := c.Get("7")
	require.True(t, ok)
	require.Equal(t, []string{"user:read"}, got)

	clock.Advance(6 * time.Second)
	_, ok = c.Get("7")
	require.False(t, ok)
	require.Zero(t, c.Count())
}

func TestCacheZeroTTLIsNotStored(t *testing.T) {
	c := New[string](WithCleanup(0))
	defer c.Close()

	c.Set("k", "v", 0)
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestCacheDeleteExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := New[int](WithCleanup(0), WithClock(clock.Now))
	defer c.Close()

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	clock.Advance(2 * time.Second)

	c.DeleteExpired()
	require.Equal(t, 1, c.Count())

	c.Delete("long")
	require.Zero(t, c.Count())
}

func TestCacheCloseTwice(t *testing.T) {
	c := New[int](WithCleanup(time.Millisecond))
	c.Close()
	c.Close()
}
