package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erboard/erboard/pkg/metrics"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.UnixMilli(1_700_000_000_000)}
}

func TestLimiter_FixedWindow(t *testing.T) {
	c := newClock()
	l := New(NewMemoryStore(), WithClock(c.Now), WithRules(map[string]Rule{
		"bed-info": {Window: time.Minute, MaxRequests: 3},
	}))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := l.Check(ctx, "1.2.3.4", "bed-info")
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3-i, d.Remaining)
		assert.Equal(t, 3, d.Limit)
	}

	c.Advance(20 * time.Second)
	d := l.Check(ctx, "1.2.3.4", "bed-info")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 40, d.RetryAfter)

	// Other identities and endpoints have their own windows.
	assert.True(t, l.Check(ctx, "5.6.7.8", "bed-info").Allowed)
	assert.True(t, l.Check(ctx, "1.2.3.4", "hospital-list").Allowed)
}

func TestLimiter_CountsDecisions(t *testing.T) {
	l := New(NewMemoryStore(), WithRules(map[string]Rule{
		"decision-test": {Window: time.Minute, MaxRequests: 2},
	}))
	allowed := metrics.RateLimitDecisions.WithLabelValues("decision-test", "allowed")
	denied := metrics.RateLimitDecisions.WithLabelValues("decision-test", "denied")
	allowedBefore, deniedBefore := testutil.ToFloat64(allowed), testutil.ToFloat64(denied)

	for i := 0; i < 3; i++ {
		l.Check(context.Background(), "1.2.3.4", "decision-test")
	}

	assert.Equal(t, allowedBefore+2, testutil.ToFloat64(allowed))
	assert.Equal(t, deniedBefore+1, testutil.ToFloat64(denied))
}

func TestLimiter_WindowResets(t *testing.T) {
	c := newClock()
	l := New(NewMemoryStore(), WithClock(c.Now), WithRules(map[string]Rule{
		"x": {Window: time.Minute, MaxRequests: 1},
	}))
	ctx := context.Background()

	first := l.Check(ctx, "ip", "x")
	require.True(t, first.Allowed)
	require.False(t, l.Check(ctx, "ip", "x").Allowed)

	c.Advance(time.Minute)
	d := l.Check(ctx, "ip", "x")
	assert.True(t, d.Allowed, "first request after reset opens a new window")
	assert.Equal(t, 0, d.Remaining)
	assert.True(t, d.ResetAt.After(first.ResetAt))
}

func TestLimiter_RetryAfterRoundsUp(t *testing.T) {
	c := newClock()
	l := New(NewMemoryStore(), WithClock(c.Now), WithRules(map[string]Rule{
		"x": {Window: time.Minute, MaxRequests: 1},
	}))
	ctx := context.Background()

	l.Check(ctx, "ip", "x")
	c.Advance(59*time.Second + 500*time.Millisecond)
	d := l.Check(ctx, "ip", "x")
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryAfter)
}

func TestLimiter_DefaultRule(t *testing.T) {
	l := New(NewMemoryStore())
	assert.Equal(t, DefaultRule, l.RuleFor("unknown-endpoint"))
	assert.Equal(t, 10, l.RuleFor("cache-status").MaxRequests)
	assert.Equal(t, 60, l.RuleFor("emergency-messages").MaxRequests)
	assert.Equal(t, 30, l.RuleFor("bed-info").MaxRequests)
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func TestLimiter_FailsOpen(t *testing.T) {
	l := New(failingStore{})
	d := l.Check(context.Background(), "ip", "bed-info")
	assert.True(t, d.Allowed)
	assert.Equal(t, 30, d.Remaining)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	c := newClock()
	m := NewMemoryStore()
	ctx := context.Background()

	_, _, _ = m.Increment(ctx, "bed-info:a", time.Minute, c.Now())
	_, _, _ = m.Increment(ctx, "bed-info:b", time.Minute, c.Now())
	c.Advance(30 * time.Second)
	_, _, _ = m.Increment(ctx, "cache-status:a", time.Minute, c.Now())

	stats := m.Stats()
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.ByEndpoint["bed-info"])

	c.Advance(30 * time.Second)
	assert.Equal(t, 2, m.Cleanup(c.Now()))
	assert.Equal(t, 1, m.Stats().TotalEntries)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = m.Increment(context.Background(), "k", time.Minute, now)
		}()
	}
	wg.Wait()

	count, _, err := m.Increment(context.Background(), "k", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 51, count)
}

func TestHeaders(t *testing.T) {
	reset := time.Unix(1_700_000_060, 0)

	h := Headers(Decision{Allowed: true, Limit: 30, Remaining: 29, ResetAt: reset})
	assert.Equal(t, "30", h.Get(HeaderLimit))
	assert.Equal(t, "29", h.Get(HeaderRemaining))
	assert.Equal(t, "1700000060", h.Get(HeaderReset))
	assert.Empty(t, h.Get(HeaderRetryAfter))

	h = Headers(Decision{Allowed: false, Limit: 30, ResetAt: reset, RetryAfter: 12})
	assert.Equal(t, "12", h.Get(HeaderRetryAfter))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare wins", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2", "X-Real-IP": "3.3.3.3"}, "1.1.1.1"},
		{"first forwarded entry", map[string]string{"X-Forwarded-For": "2.2.2.2, 10.0.0.1", "X-Real-IP": "3.3.3.3"}, "2.2.2.2"},
		{"real ip", map[string]string{"X-Real-IP": "3.3.3.3"}, "3.3.3.3"},
		{"unknown", nil, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/bed-info", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestMiddleware(t *testing.T) {
	l := New(NewMemoryStore(), WithRules(map[string]Rule{
		"cache-status": {Window: time.Minute, MaxRequests: 1},
	}))
	handler := Middleware(l, "cache-status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/cache-status", nil)
	req.Header.Set("X-Real-IP", "9.9.9.9")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get(HeaderRemaining))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Too many requests","retryAfter":60}`, rec.Body.String())
	retry, err := strconv.Atoi(rec.Header().Get(HeaderRetryAfter))
	require.NoError(t, err)
	assert.Equal(t, 60, retry)
}

// Set REDIS_TEST_ADDR to run against a real Redis.
func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping integration test")
	}

	client := NewRedisClient(RedisOptions{Addr: addr})
	store := NewRedisStore(client, "erboard:test:ratelimit:")
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	key := "bed-info:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer client.Del(ctx, "erboard:test:ratelimit:"+key)

	l := New(store, WithRules(map[string]Rule{"bed-info": {Window: 2 * time.Second, MaxRequests: 2}}))
	ip := key[len("bed-info:"):]
	assert.True(t, l.Check(ctx, ip, "bed-info").Allowed)
	assert.True(t, l.Check(ctx, ip, "bed-info").Allowed)
	d := l.Check(ctx, ip, "bed-info")
	assert.False(t, d.Allowed)
	assert.LessOrEqual(t, d.RetryAfter, 2)
}
