package admission

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter caps requests per second across the whole service using a
// token bucket.
type RateLimiter struct {
	limiter      *rate.Limiter
	perSecond    int
	burst        int
	mu           sync.RWMutex
	allowedCount int64
	droppedCount int64
	now          func() time.Time
}

func NewRateLimiter(perSecond, burst int) *RateLimiter {
	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		perSecond: perSecond,
		burst:     burst,
		now:       time.Now,
	}
}

// Allow takes one token if available
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	allowed := rl.limiter.AllowN(rl.now(), 1)
	if allowed {
		rl.allowedCount++
	} else {
		rl.droppedCount++
	}
	return allowed
}

// UpdateLimit changes the limit without dropping the bucket state
func (rl *RateLimiter) UpdateLimit(perSecond, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.perSecond = perSecond
	rl.burst = burst
	rl.limiter.SetLimit(rate.Limit(perSecond))
	rl.limiter.SetBurst(burst)
}

func (rl *RateLimiter) GetStats() (allowed, dropped int64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.allowedCount, rl.droppedCount
}

func (rl *RateLimiter) GetLimit() (perSecond, burst int) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.perSecond, rl.burst
}

// Middleware rejects requests beyond the limit with 429 and a JSON body
func (rl *RateLimiter) Middleware(onReject func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow() {
			if onReject != nil {
				onReject()
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "fail",
				"message": "Too many requests, please back off.",
			})
			return
		}
		c.Next()
	}
}
