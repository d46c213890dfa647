package middleware

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// rateLimiter holds one token bucket per client IP.
type rateLimiter struct {
	r        rate.Limit
	b        int
	limiters sync.Map
	stopped  chan struct{}
}

func newRateLimiter(r rate.Limit, b int) *rateLimiter {
	return &rateLimiter{r: r, b: b, stopped: make(chan struct{})}
}

func (rl *rateLimiter) allow(ip string, now time.Time) bool {
	v, _ := rl.limiters.LoadOrStore(ip, &ipLimiter{limiter: rate.NewLimiter(rl.r, rl.b)})
	il := v.(*ipLimiter)
	il.lastSeen.Store(now.UnixNano())
	return il.limiter.Allow()
}

// sweep forgets limiters not seen since cutoff.
func (rl *rateLimiter) sweep(cutoff time.Time) {
	c := cutoff.UnixNano()
	rl.limiters.Range(func(k, v interface{}) bool {
		if v.(*ipLimiter).lastSeen.Load() < c {
			rl.limiters.Delete(k)
		}
		return true
	})
}

func (rl *rateLimiter) sweepLoop(ctx context.Context, every, idle time.Duration) {
	defer close(rl.stopped)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.sweep(now.Add(-idle))
		}
	}
}

func (rl *rateLimiter) handler(c *gin.Context) {
	if !rl.allow(c.ClientIP(), time.Now()) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}
	c.Next()
}

// RateLimit provides per-IP token-bucket rate limiting: r requests per
// second with bursts of b. Limiters idle for ten minutes are forgotten; the
// sweeper stops with ctx.
func RateLimit(ctx context.Context, r rate.Limit, b int) gin.HandlerFunc {
	rl := newRateLimiter(r, b)
	go rl.sweepLoop(ctx, limiterSweepEvery, limiterIdleAfter)
	return rl.handler
}
