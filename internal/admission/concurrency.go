package admission

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter allows limit requests in flight. Up to queueSize more
// may wait for a slot, each for at most timeout; anything beyond that is
// turned away at once.
type ConcurrencyLimiter struct {
	inFlight *semaphore.Weighted
	admitted *semaphore.Weighted
	timeout  time.Duration
	active   atomic.Int64
}

func NewConcurrencyLimiter(limit, queueSize int, timeout time.Duration) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		inFlight: semaphore.NewWeighted(int64(limit)),
		admitted: semaphore.NewWeighted(int64(limit + queueSize)),
		timeout:  timeout,
	}
}

// Acquire returns a release func, or false when the request must be
// rejected.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) (func(), bool) {
	if !l.admitted.TryAcquire(1) {
		return nil, false
	}

	if !l.inFlight.TryAcquire(1) {
		waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
		err := l.inFlight.Acquire(waitCtx, 1)
		cancel()
		if err != nil {
			l.admitted.Release(1)
			return nil, false
		}
	}

	l.active.Add(1)
	return func() {
		l.active.Add(-1)
		l.inFlight.Release(1)
		l.admitted.Release(1)
	}, true
}

// InFlight is the number of requests holding a slot
func (l *ConcurrencyLimiter) InFlight() int64 {
	return l.active.Load()
}

// Middleware rejects with 503 when no slot frees up in time
func (l *ConcurrencyLimiter) Middleware(onReject func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		release, ok := l.Acquire(c.Request.Context())
		if !ok {
			if onReject != nil {
				onReject()
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"status":  "error",
				"message": "Server busy, please retry.",
			})
			return
		}
		defer release()
		c.Next()
	}
}
