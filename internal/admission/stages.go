// Package admission holds the request stages every ingestion route runs
// through before any business logic: CORS, tracing, error mapping,
// concurrency limiting and rate limiting, in that order.
package admission

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// Config sizes the pipeline
type Config struct {
	AllowedOrigin     string
	RequestsPerSecond int
	Burst             int
	ConcurrencyLimit  int
	QueueSize         int
	QueueTimeout      time.Duration
}

// Pipeline is the ordered list of stages
type Pipeline struct {
	Concurrency *ConcurrencyLimiter
	Rate        *RateLimiter
	stages      []gin.HandlerFunc
}

// New builds the pipeline. onReject is called for each request refused
// by the concurrency or rate stage.
func New(cfg Config, log *logger.Logger, onReject func()) (*Pipeline, error) {
	corsStage, err := CORS(cfg.AllowedOrigin)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Concurrency: NewConcurrencyLimiter(cfg.ConcurrencyLimit, cfg.QueueSize, cfg.QueueTimeout),
		Rate:        NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
	}
	p.stages = []gin.HandlerFunc{
		corsStage,
		Trace(log),
		Recover(log),
		p.Concurrency.Middleware(onReject),
		p.Rate.Middleware(onReject),
	}
	return p, nil
}

// Handlers returns the stages in order, for gin's Use
func (p *Pipeline) Handlers() []gin.HandlerFunc {
	return p.stages
}

// Edge returns only the CORS, trace and recover stages. Long-lived
// connections use it so they do not pin a concurrency slot.
func (p *Pipeline) Edge() []gin.HandlerFunc {
	return p.stages[:3]
}

// CORS allows requests from one configured origin, or any origin for "*"
func CORS(origin string) (gin.HandlerFunc, error) {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if origin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = []string{origin}
		cfg.AllowCredentials = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}
	return cors.New(cfg), nil
}

// Trace tags each request with an ID and writes an access log line
func Trace(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()

		log.Info("request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// RequestID returns the ID assigned by Trace
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Recover turns a panicking handler into a 500 with a JSON body
func Recover(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		log.Error("handler panicked", "request_id", RequestID(c), "panic", fmt.Sprint(recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Internal server error.",
		})
	})
}
