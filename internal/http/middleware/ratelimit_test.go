package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiterBurstAndRefill(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(1, 2).WithClock(clock.Now)

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"), "buckets are per key")

	clock.Advance(1500 * time.Millisecond)
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))

	clock.Advance(time.Hour)
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"), "refill is capped at burst")
}

func TestRateLimiterEvict(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(1, 1).WithClock(clock.Now)
	rl.Allow("old")
	clock.Advance(20 * time.Minute)
	rl.Allow("new")

	require.Equal(t, 1, rl.Evict(clock.Now().Add(-rateLimitIdleAfter)))
	assert.True(t, rl.Allow("old"), "evicted key starts with a full bucket")
	assert.False(t, rl.Allow("new"))
}

func TestRateLimiterCleanupStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRateLimiter(1, 1).RunCleanup(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	mw := RateLimit(NewRateLimiter(0, 1))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remote, realIP string) int {
		req := httptest.NewRequest(http.MethodPost, "/chat/message", nil)
		req.RemoteAddr = remote
		if realIP != "" {
			req.Header.Set("X-Real-Ip", realIP)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000", ""))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:6000", ""), "port is not part of the key")
	assert.Equal(t, http.StatusOK, send("10.0.0.1:6000", "200.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.9:1", "200.1.1.1"))
}
