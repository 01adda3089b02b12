package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/slot-reservations/internal/ratelimit"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSlidingWindowExpiresOldHits(t *testing.T) {
	now := time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC)
	l := ratelimit.SlidingWindow{
		Client: newClient(t),
		Prefix: "test:",
		Window: 2 * time.Second,
		Max:    2,
		Now:    func() time.Time { return now },
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "key")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 1-i, d.Remaining)
		now = now.Add(time.Millisecond)
	}
	d, err := l.Allow(ctx, "key")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)

	now = now.Add(3 * time.Second)
	d, err = l.Allow(ctx, "key")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	other, err := l.Allow(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, 1, other.Remaining)
}

func TestSlidingWindowDisabled(t *testing.T) {
	d, err := ratelimit.SlidingWindow{Max: 0, Window: time.Second}.Allow(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestFixedWindowMemoryStore(t *testing.T) {
	l, err := ratelimit.NewFixedWindow("2-M", nil, "test")
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "ip")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 2, d.Limit)
	}
	d, err := l.Allow(ctx, "ip")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.True(t, d.ResetAt.After(time.Now()))

	_, err = ratelimit.NewFixedWindow("ten per minute", nil, "test")
	require.Error(t, err)
}

type staticLimiter struct {
	d   ratelimit.Decision
	err error
}

func (s staticLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return s.d, s.err
}

func TestAllPicksMostRestrictive(t *testing.T) {
	base := time.Now()
	roomy := staticLimiter{d: ratelimit.Decision{Allowed: true, Limit: 20, Remaining: 15, ResetAt: base.Add(time.Minute)}}
	tight := staticLimiter{d: ratelimit.Decision{Allowed: true, Limit: 10, Remaining: 2, ResetAt: base.Add(30 * time.Second)}}
	denied := staticLimiter{d: ratelimit.Decision{Allowed: false, Limit: 10, Remaining: 0, ResetAt: base.Add(45 * time.Second)}}
	ctx := context.Background()

	d, err := ratelimit.All{roomy, nil, tight}.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
	require.Equal(t, 10, d.Limit)

	d, err = ratelimit.All{roomy, denied, tight}.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, base.Add(45*time.Second), d.ResetAt)

	_, err = ratelimit.All{roomy, staticLimiter{err: errors.New("down")}}.Allow(ctx, "k")
	require.Error(t, err)
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	handler := ratelimit.Handler{
		Limiter: ratelimit.SlidingWindow{Client: newClient(t), Prefix: "rl:", Window: time.Minute, Max: 1},
		Key:     ratelimit.ByClientIP("reserve"),
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		counted.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusCreated, send("10.0.0.1").Code)
	limited := send("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "1", limited.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, limited.Header().Get("Retry-After"))
	require.Contains(t, limited.Body.String(), "RATE_LIMITED")
	require.Equal(t, http.StatusCreated, send("10.0.0.2").Code)
}

func TestHandlerMiddlewareFailsOpen(t *testing.T) {
	var reported error
	handler := ratelimit.Handler{
		Limiter: staticLimiter{err: errors.New("redis down")},
		Key:     func(*http.Request) string { return "k" },
		OnError: func(err error) { reported = err },
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	counted.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualError(t, reported, "redis down")
}
