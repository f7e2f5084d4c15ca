// Package api is the HTTP surface of the gateway: login, the ingestion
// routes, and the read side over the hand-off buffers.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Arrow-air/svc-telemetry/internal/admission"
	"github.com/Arrow-air/svc-telemetry/internal/auth"
	"github.com/Arrow-air/svc-telemetry/internal/buffer"
	"github.com/Arrow-air/svc-telemetry/internal/ingest"
	"github.com/Arrow-air/svc-telemetry/internal/metrics"
	"github.com/Arrow-air/svc-telemetry/internal/model"
	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

const (
	defaultMaxBodyBytes   = 64 << 10
	defaultStreamInterval = time.Second
	readinessTimeout      = 2 * time.Second
)

// Check is one readiness dependency, e.g. a dedup store ping
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Options wires the server to the rest of the gateway
type Options struct {
	Pipeline       *ingest.Pipeline
	Admission      *admission.Pipeline
	Tokens         *auth.TokenService
	CookieName     string
	HandOff        *buffer.HandOff
	Metrics        *metrics.Metrics
	Checks         []Check
	MaxBodyBytes   int64
	StreamInterval time.Duration
	Logger         *logger.Logger
}

// Server represents the HTTP API server
type Server struct {
	pipeline   *ingest.Pipeline
	admission  *admission.Pipeline
	tokens     *auth.TokenService
	authn      auth.Authenticator
	cookieName string
	handoff    *buffer.HandOff
	metrics    *metrics.Metrics
	checks     []Check
	logger     *logger.Logger

	maxBodyBytes   int64
	streamInterval time.Duration
	upgrader       websocket.Upgrader

	stopOnce sync.Once
	stop     chan struct{}
}

// NewServer creates a new HTTP API server
func NewServer(opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = defaultStreamInterval
	}
	if opts.CookieName == "" {
		opts.CookieName = "token"
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	return &Server{
		pipeline:       opts.Pipeline,
		admission:      opts.Admission,
		tokens:         opts.Tokens,
		authn:          &auth.BearerAuthenticator{Tokens: opts.Tokens, CookieName: opts.CookieName},
		cookieName:     opts.CookieName,
		handoff:        opts.HandOff,
		metrics:        opts.Metrics,
		checks:         opts.Checks,
		logger:         opts.Logger.With("component", "api"),
		maxBodyBytes:   opts.MaxBodyBytes,
		streamInterval: opts.StreamInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			// Origin is already enforced by the CORS stage.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		stop: make(chan struct{}),
	}
}

// Handler sets up the routes and returns the gin engine
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", s.handleMetrics)

	telemetry := r.Group("/telemetry", s.admission.Handlers()...)
	telemetry.Use(s.countRequests)
	telemetry.GET("/login", s.handleLogin)
	telemetry.POST("/adsb", s.handleIngest(model.FormatADSB))
	telemetry.POST("/mavlink/adsb", s.handleIngest(model.FormatMAVLink))
	telemetry.GET("/buffers/:category", s.handleBuffer)

	authed := telemetry.Group("", auth.Middleware(s.authn, s.logger, s.metrics.IncrementAuthFailures))
	authed.POST("/netrid", s.handleIngest(model.FormatNetRID))
	authed.POST("/basic", s.handleIngest(model.FormatBasic))

	stream := r.Group("/telemetry", s.admission.Edge()...)
	stream.GET("/stream", s.handleStream)

	return r
}

// Close ends open stream connections. http.Server.Shutdown does not
// track hijacked connections, so call this before it.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Server) countRequests(c *gin.Context) {
	s.metrics.IncrementRequests()
	c.Next()
}

// handleHealth answers liveness checks
func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleReady pings every dependency and reports 503 if any is down
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(s.checks))
	for _, check := range s.checks {
		go func(check Check) {
			results <- result{name: check.Name, err: check.Ping(ctx)}
		}(check)
	}

	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for range s.checks {
		r := <-results
		if r.err != nil {
			status = http.StatusServiceUnavailable
			checks[r.name] = r.err.Error()
			s.logger.Warn("readiness check failed", "check", r.name, "error", r.err)
			continue
		}
		checks[r.name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().Unix(),
	})
}

// handleMetrics returns gateway counters, buffer fill and admission stats
func (s *Server) handleMetrics(c *gin.Context) {
	allowed, dropped := s.admission.Rate.GetStats()
	perSecond, burst := s.admission.Rate.GetLimit()
	c.JSON(http.StatusOK, gin.H{
		"gateway": s.metrics.GetSnapshot(),
		"buffers": s.handoff.Stats(),
		"admission": gin.H{
			"allowed":          allowed,
			"dropped":          dropped,
			"in_flight":        s.admission.Concurrency.InFlight(),
			"limit_per_second": perSecond,
			"burst":            burst,
		},
	})
}
