// ratelimit.go provides Gin middleware that enforces per-client rate limits and returns
// 429 when a client exceeds its budget. Limits are kept in process by RateLimiter, or
// shared across replicas through Redis by RedisRateLimiter.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/configvault/configvault/internal/api/apierror"
	"github.com/configvault/configvault/internal/audit"
	"github.com/configvault/configvault/internal/auth"
	"github.com/configvault/configvault/internal/safego"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained refill rate
	RequestsPerMinute int
	// BurstSize is the number of requests a fresh client may send at once
	BurstSize int
	// CleanupInterval is how often idle in-memory entries are evicted
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns limits for the authenticated management API
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// LoginRateLimitConfig returns stricter limits for the login endpoint
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the client identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// idleEntryTTL is how long an in-memory bucket survives without requests
const idleEntryTTL = 10 * time.Minute

type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter is an in-process token bucket limiter
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
	stop    sync.Once
	now     func() time.Time
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine. Call Stop on shutdown.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	safego.Go("ratelimit-cleanup", rl.cleanup)
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, entry := range rl.entries {
		if now.Sub(entry.lastUpdate) > idleEntryTTL {
			delete(rl.entries, key)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stop.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) tokensPerSecond() float64 {
	return float64(rl.config.RequestsPerMinute) / 60.0
}

// Allow consumes one token for key when available
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	burst := float64(rl.config.BurstSize)
	entry, exists := rl.entries[key]
	if !exists {
		entry = &rateLimitEntry{tokens: burst, lastUpdate: now}
		rl.entries[key] = entry
	}

	elapsed := now.Sub(entry.lastUpdate).Seconds()
	entry.tokens = min(burst, entry.tokens+elapsed*rl.tokensPerSecond())
	entry.lastUpdate = now

	d := Decision{Limit: rl.config.RequestsPerMinute}
	if entry.tokens >= 1 {
		entry.tokens--
		d.Allowed = true
	} else if rate := rl.tokensPerSecond(); rate > 0 {
		d.RetryAfter = time.Duration((1 - entry.tokens) / rate * float64(time.Second))
	} else {
		d.RetryAfter = time.Minute
	}
	d.Remaining = int(entry.tokens)
	return d, nil
}

// RedisRateLimiter keeps limits in Redis using the GCRA implementation of
// redis_rate, so every replica enforces one shared budget per client.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter builds a limiter on an existing Redis client
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, config RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
		prefix: prefix,
	}
}

// Allow consumes one request of key's budget
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{
		Allowed:   res.Allowed > 0,
		Limit:     rl.limit.Rate,
		Remaining: res.Remaining,
	}
	if !d.Allowed {
		d.RetryAfter = res.RetryAfter
	}
	return d, nil
}

// RateLimitMiddleware rejects requests once the client's budget is spent. When the
// limiter itself fails (e.g. Redis is unreachable) the request is let through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))

		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			apierror.Abort(c, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		c.Next()
	}
}

// rateLimitKey identifies the client: authenticated user, then API key, then IP.
// API keys are hashed so the raw secret never appears in limiter state.
func rateLimitKey(c *gin.Context) string {
	if id := c.GetString(UserIDKey); id != "" {
		return "user:" + id
	}
	if key := c.GetHeader(auth.APIKeyHeader); key != "" {
		sum := sha256.Sum256([]byte(key))
		return "apikey:" + hex.EncodeToString(sum[:8])
	}
	return "ip:" + audit.ClientIP(c.Request)
}
