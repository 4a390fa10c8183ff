package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
)

const limiterIdleTimeout = 10 * time.Minute

type rateLimitClient struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rateLimitClient
	limit    rate.Limit
	burst    int
	clock    clock.Clock
}

// NewRateLimiter allows perSecond requests with bursts of burst. A
// non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int, clk clock.Clock) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rateLimitClient),
		limit:    limit,
		burst:    burst,
		clock:    clk,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.clock.Now().UnixNano()

	rl.mu.RLock()
	if client, ok := rl.limiters[key]; ok {
		client.lastSeen.Store(now)
		rl.mu.RUnlock()
		return client.limiter
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if client, ok := rl.limiters[key]; ok {
		client.lastSeen.Store(now)
		return client.limiter
	}
	client := &rateLimitClient{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	client.lastSeen.Store(now)
	rl.limiters[key] = client
	return client.limiter
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limiterFor(c.ClientIP()).AllowN(rl.clock.Now(), 1) {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		c.Header("X-RateLimit-Remaining", "0")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
	}
}

func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.limit == rate.Inf || rl.limit <= 0 {
		return 1
	}
	secs := int(1 / float64(rl.limit))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Evict drops limiters idle for longer than limiterIdleTimeout.
func (rl *RateLimiter) Evict() int {
	threshold := rl.clock.Now().Add(-limiterIdleTimeout).UnixNano()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, client := range rl.limiters {
		if client.lastSeen.Load() < threshold {
			delete(rl.limiters, key)
			n++
		}
	}
	return n
}

// Run evicts idle limiters every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Evict()
		}
	}
}
