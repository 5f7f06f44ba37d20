package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adminmgmt/pkg/config"
	"github.com/adminmgmt/pkg/database"
	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(database.NewStore(client, "admin")), mr
}

func TestSixthCallInWindowIsDenied(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.TryAcquire(ctx, "caller-1:confirm", 5, 60*time.Second)
		require.NoError(t, err)
		require.True(t, ok, "call %d", i+1)
		mr.FastForward(time.Second)
	}

	ok, err := l.TryAcquire(ctx, "caller-1:confirm", 5, 60*time.Second)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRejectedAttemptsStillCount(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := l.TryAcquire(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
	}
	v, err := mr.Get("admin:ratelimit:k")
	require.NoError(t, err)
	require.Equal(t, "8", v)
}

func TestWindowResetsAfterPeriod(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.TryAcquire(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
	}
	ok, err := l.TryAcquire(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// 窗口内的请求不延长窗口
	mr.FastForward(time.Minute)
	ok, err = l.TryAcquire(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()
	p := Policy{Max: 1, Period: time.Minute}

	ok, err := l.Allow(ctx, p, "caller-1", "issue")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, p, "caller-1", "confirm")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, p, "caller-2", "issue")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, p, "caller-1", "issue")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentCallersNeverExceedMax(t *testing.T) {
	l, _ := newLimiter(t)
	var granted atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := l.TryAcquire(context.Background(), "burst", 5, time.Minute); err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 5, granted.Load())
}

func TestStoreDownDenies(t *testing.T) {
	l, mr := newLimiter(t)
	mr.Close()

	ok, err := l.TryAcquire(context.Background(), "k", 5, time.Minute)
	require.False(t, ok)
	require.ErrorIs(t, err, apperrors.ErrCacheUnavailable)
}

func TestCancelledCallerIsNotCounted(t *testing.T) {
	l, mr := newLimiter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := l.TryAcquire(ctx, "k", 5, time.Minute)
	require.False(t, ok)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, apperrors.ErrUnavailable)
	require.Equal(t, http.StatusServiceUnavailable, apperrors.GetCode(err))
	require.False(t, mr.Exists("admin:ratelimit:k"))
}

func TestInvalidPolicy(t *testing.T) {
	l, _ := newLimiter(t)

	ok, err := l.TryAcquire(context.Background(), "k", 0, time.Minute)
	require.False(t, ok)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestEmailVerificationPolicy(t *testing.T) {
	p := EmailVerificationPolicy(&config.LimitationConfig{
		EmailVerificationCallsMonitoredPeriod:     time.Minute,
		EmailVerificationMaxAllowedRequestsNumber: 5,
	})
	require.Equal(t, Policy{Max: 5, Period: time.Minute}, p)
}
