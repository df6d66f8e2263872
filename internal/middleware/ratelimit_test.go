package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, rpm, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Hour,
	})
	t.Cleanup(rl.Stop)
	return rl
}

// frozenClock pins the limiter's clock and returns a function advancing it
func frozenClock(rl *RateLimiter) func(time.Duration) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func allow(t *testing.T, l Limiter, key string) Decision {
	t.Helper()
	d, err := l.Allow(context.Background(), key)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	return d
}

func TestRateLimitConfigs(t *testing.T) {
	if cfg := DefaultRateLimitConfig(); cfg.RequestsPerMinute != 200 || cfg.BurstSize != 50 {
		t.Errorf("DefaultRateLimitConfig = %+v", cfg)
	}
	if cfg := LoginRateLimitConfig(); cfg.RequestsPerMinute != 10 || cfg.BurstSize != 5 {
		t.Errorf("LoginRateLimitConfig = %+v", cfg)
	}
}

func TestRateLimiter_BurstThenBlock(t *testing.T) {
	rl := newTestLimiter(t, 60, 3)
	frozenClock(rl)

	for i := 0; i < 3; i++ {
		d := allow(t, rl, "ip:a")
		if !d.Allowed {
			t.Fatalf("request %d blocked within burst", i+1)
		}
		if d.Remaining != 2-i {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, d.Remaining, 2-i)
		}
	}
	d := allow(t, rl, "ip:a")
	if d.Allowed {
		t.Fatal("request beyond burst allowed")
	}
	if d.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %v, want 1s at 60 rpm", d.RetryAfter)
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := newTestLimiter(t, 60, 1)
	advance := frozenClock(rl)

	allow(t, rl, "k")
	if allow(t, rl, "k").Allowed {
		t.Fatal("second request allowed without refill")
	}
	advance(time.Second)
	if !allow(t, rl, "k").Allowed {
		t.Error("one token must be back after a second at 60 rpm")
	}
	advance(time.Hour)
	if d := allow(t, rl, "k"); d.Remaining != 0 {
		t.Errorf("refill must cap at the burst: Remaining = %d", d.Remaining)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := newTestLimiter(t, 60, 1)
	frozenClock(rl)

	allow(t, rl, "a")
	if !allow(t, rl, "b").Allowed {
		t.Error("exhausting a must not affect b")
	}
}

func TestRateLimiter_EvictsIdleEntries(t *testing.T) {
	rl := newTestLimiter(t, 60, 5)
	advance := frozenClock(rl)

	allow(t, rl, "stale")
	advance(5 * time.Minute)
	allow(t, rl, "fresh")
	advance(6 * time.Minute)
	rl.evictIdle()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.entries["stale"]; ok {
		t.Error("stale entry survived eviction")
	}
	if _, ok := rl.entries["fresh"]; !ok {
		t.Error("recently used entry evicted")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1, CleanupInterval: time.Millisecond})
	rl.Stop()
	rl.Stop()
}

func TestRateLimitKey(t *testing.T) {
	newCtx := func() *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.RemoteAddr = "192.0.2.10:4000"
		return c
	}

	c := newCtx()
	c.Set(UserIDKey, "u-1")
	c.Request.Header.Set("X-API-Key", "pk_0123")
	if got := rateLimitKey(c); got != "user:u-1" {
		t.Errorf("user: got %q", got)
	}

	c = newCtx()
	c.Request.Header.Set("X-API-Key", "pk_0123456789abcdef0123456789abcdef")
	got := rateLimitKey(c)
	if !strings.HasPrefix(got, "apikey:") || strings.Contains(got, "pk_") {
		t.Errorf("api key: got %q, want a hashed apikey: key", got)
	}

	c = newCtx()
	c.Request.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := rateLimitKey(c); got != "ip:203.0.113.9" {
		t.Errorf("forwarded: got %q", got)
	}

	if got := rateLimitKey(newCtx()); got != "ip:192.0.2.10" {
		t.Errorf("remote address: got %q", got)
	}
}

func newRateLimitRouter(l Limiter) *gin.Engine {
	r := gin.New()
	r.Use(RateLimitMiddleware(l))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := newTestLimiter(t, 120, 1)
	frozenClock(rl)
	r := newRateLimitRouter(rl)

	w := serve(r, http.MethodGet, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "120" {
		t.Errorf("X-RateLimit-Limit = %q, want 120", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	w = serve(r, http.MethodGet, "/")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	if !strings.Contains(w.Body.String(), `"status":429`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRateLimitMiddleware_RedisUnavailableFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	limiter := NewRedisRateLimiter(client, "cfv:test:", RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})

	if _, err := limiter.Allow(context.Background(), "k"); err == nil {
		t.Fatal("expected an error from an unreachable Redis")
	}
	r := newRateLimitRouter(limiter)
	for i := 0; i < 3; i++ {
		if w := serve(r, http.MethodGet, "/"); w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}
}
