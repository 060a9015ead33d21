package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisStore(NewRedisClient(RedisOptions{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_CountsWithinWindow(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	count, resetAt, err := store.Increment(ctx, "bed-info:1.2.3.4", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, now.Add(time.Minute), resetAt)
	assert.Equal(t, time.Minute, mr.TTL("erboard:ratelimit:bed-info:1.2.3.4"))

	mr.FastForward(20 * time.Second)
	count, resetAt, err = store.Increment(ctx, "bed-info:1.2.3.4", time.Minute, now.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, now.Add(time.Minute), resetAt, "the second request keeps the window")
	assert.Equal(t, 40*time.Second, mr.TTL("erboard:ratelimit:bed-info:1.2.3.4"))

	count, _, err = store.Increment(ctx, "bed-info:5.6.7.8", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "identities are counted apart")
}

func TestRedisStore_WindowReset(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	l := New(store,
		WithRules(map[string]Rule{"bed-info": {Window: time.Minute, MaxRequests: 2}}),
		WithClock(func() time.Time { return now }),
	)
	assert.True(t, l.Check(ctx, "1.2.3.4", "bed-info").Allowed)
	assert.True(t, l.Check(ctx, "1.2.3.4", "bed-info").Allowed)
	denied := l.Check(ctx, "1.2.3.4", "bed-info")
	assert.False(t, denied.Allowed)
	assert.Equal(t, 60, denied.RetryAfter)

	mr.FastForward(time.Minute)
	now = now.Add(time.Minute)
	d := l.Check(ctx, "1.2.3.4", "bed-info")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestRedisStore_ArmsMissingExpiry(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	require.NoError(t, mr.Set("erboard:ratelimit:bed-info:1.2.3.4", "5"))

	count, _, err := store.Increment(context.Background(), "bed-info:1.2.3.4", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.Equal(t, time.Minute, mr.TTL("erboard:ratelimit:bed-info:1.2.3.4"))
}

func TestRedisStore_ServerDown(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	mr.Close()

	_, _, err := store.Increment(context.Background(), "bed-info:1.2.3.4", time.Minute, time.Now())
	assert.Error(t, err)
}
