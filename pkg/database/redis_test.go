package database

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "test"), mr
}

func TestStoreKeyPrefix(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "permissions:7", "[]", time.Minute))
	require.True(t, mr.Exists("test:permissions:7"))
	require.Equal(t, "test:a:b", s.Key("a", "b"))
}

func TestStoreGetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	val, found, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, val)
}

func TestStoreGetWithTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(20 * time.Second)

	val, ttl, found, err := s.GetWithTTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", val)
	require.Equal(t, 40*time.Second, ttl)

	_, _, found, err = s.GetWithTTL(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStoreGetDelIsSingleUse(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "code", "hash", time.Minute))

	val, found, err := s.GetDel(ctx, "code")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hash", val)

	_, found, err = s.GetDel(ctx, "code")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStoreIncrWithExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := s.IncrWithExpiry(ctx, "rl", time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, n)
	}
	// 窗口内的自增不会延长过期时间
	mr.FastForward(30 * time.Second)
	_, err := s.IncrWithExpiry(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, mr.TTL("test:rl"))

	mr.FastForward(31 * time.Second)
	n, err := s.IncrWithExpiry(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestStoreIncrRepairsMissingTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("test:rl", "4"))
	n, err := s.IncrWithExpiry(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
	require.Equal(t, time.Minute, mr.TTL("test:rl"))
}

func TestStoreErrorsAreSanitized(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	addr := mr.Addr()
	mr.Close()

	_, _, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, apperrors.ErrCacheUnavailable)
	require.NotContains(t, err.Error(), addr)

	_, err = s.IncrWithExpiry(ctx, "k", time.Minute)
	require.ErrorIs(t, err, apperrors.ErrCacheUnavailable)

	require.ErrorIs(t, s.Ping(ctx), apperrors.ErrCacheUnavailable)
}

func TestStoreWrongTypeIsUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.HSet("test:h", "f", "v")

	_, _, err := s.Get(context.Background(), "h")
	require.ErrorIs(t, err, apperrors.ErrCacheUnavailable)
}
