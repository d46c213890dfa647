package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func limitedRouter(ctx context.Context, r rate.Limit, b int) *gin.Engine {
	eng := gin.New()
	eng.Use(RateLimit(ctx, r, b))
	eng.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return eng
}

func hit(eng *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	eng.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	eng := limitedRouter(t.Context(), 0.001, 3)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(eng, "10.0.1.1"), "request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(eng, "10.0.1.1"))
}

func TestRateLimit_BucketsArePerIP(t *testing.T) {
	eng := limitedRouter(t.Context(), 0.001, 1)
	assert.Equal(t, http.StatusOK, hit(eng, "10.1.1.1"))
	assert.Equal(t, http.StatusOK, hit(eng, "10.1.1.2"))
	assert.Equal(t, http.StatusTooManyRequests, hit(eng, "10.1.1.1"))
}

func TestRateLimiter_SweepForgetsIdle(t *testing.T) {
	rl := newRateLimiter(0.001, 1)
	now := time.Now()
	assert.True(t, rl.allow("10.2.0.1", now.Add(-time.Hour)))
	assert.True(t, rl.allow("10.2.0.2", now))

	rl.sweep(now.Add(-limiterIdleAfter))

	_, idle := rl.limiters.Load("10.2.0.1")
	_, active := rl.limiters.Load("10.2.0.2")
	assert.False(t, idle)
	assert.True(t, active)
	assert.True(t, rl.allow("10.2.0.1", now), "a forgotten IP starts with a full bucket")
	assert.False(t, rl.allow("10.2.0.2", now))
}

func TestRateLimiter_SweeperStopsWithContext(t *testing.T) {
	rl := newRateLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go rl.sweepLoop(ctx, time.Millisecond, time.Minute)

	select {
	case <-rl.stopped:
		t.Fatal("sweeper exited before cancel")
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	select {
	case <-rl.stopped:
	case <-time.After(time.Second):
		t.Fatal("sweeper still running after cancel")
	}
}
