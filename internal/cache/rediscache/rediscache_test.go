package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	key := OrderKey("o1")
	require.Equal(t, "order:o1:current", key)
	require.NoError(t, c.Set(ctx, key, []byte(`{"id":"o1"}`), time.Minute))

	b, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"id":"o1"}`), b)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Ping(ctx))
}

func TestRedisCache_GetWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	mr.Close()

	_, ok, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestRateLimiter_AllowPerMinute(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	now := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := rl.AllowPerMinute(ctx, "labels", 3)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := rl.AllowPerMinute(ctx, "labels", 3)
	require.NoError(t, err)
	require.False(t, ok)

	// следующая минута: новое окно
	now = now.Add(time.Minute)
	ok, err = rl.AllowPerMinute(ctx, "labels", 3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rl.AllowPerMinute(ctx, "labels", 0)
	require.NoError(t, err)
	require.True(t, ok)
}
