// server.go - HTTP surface over the shielded ledger.
//
// Routes live under /v1 except /healthz and /metrics. Rate limiting and request
// metrics are optional hooks supplied by the daemon.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"shielded/internal/commitment"
	"shielded/internal/ledger"
	"shielded/internal/zkproof"
)

// Limiter decides whether a client may issue another request.
type Limiter interface {
	Allow(clientID string) bool
}

// Recorder receives request and ledger events for metrics.
type Recorder interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
	TransactionCreated(kind string)
	RequestRejected(reason string)
}

// HealthFunc reports overall health and a response body for /healthz.
type HealthFunc func(ctx context.Context) (healthy bool, body any)

// Options configures a Server. Ledger is required; the rest may be zero.
type Options struct {
	Ledger   *ledger.Ledger
	RangeMin uint64
	RangeMax uint64
	Limiter  Limiter
	Recorder Recorder
	Health   HealthFunc
	Metrics  http.Handler
	Logger   *zerolog.Logger
}

type Server struct {
	r           *gin.Engine
	ledger      *ledger.Ledger
	commitments *commitment.Engine
	prover      *zkproof.Prover
	rangeMin    uint64
	rangeMax    uint64
	limiter     Limiter
	recorder    Recorder
	health      HealthFunc
	metrics     http.Handler
	log         zerolog.Logger
}

func NewServer(opts Options) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	s := &Server{
		r:           r,
		ledger:      opts.Ledger,
		commitments: opts.Ledger.Builder().Commitments(),
		prover:      opts.Ledger.Builder().Prover(),
		rangeMin:    opts.RangeMin,
		rangeMax:    opts.RangeMax,
		limiter:     opts.Limiter,
		recorder:    opts.Recorder,
		health:      opts.Health,
		metrics:     opts.Metrics,
		log:         log.With().Str("component", "api").Logger(),
	}
	r.Use(s.observe(), s.rateLimit())
	s.routes()
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.r.Group("/v1")
	v1.POST("/transactions", s.handleCreateTransaction)
	v1.GET("/transactions", s.handleListTransactions)
	v1.GET("/transactions/:id", s.handleGetTransaction)
	v1.GET("/transactions/:id/verify", s.handleVerifyTransaction)
	v1.POST("/transactions/:id/proof", s.handleGenerateProof)

	v1.GET("/merkle", s.handleMerkleSnapshot)
	v1.GET("/merkle/proof/:id", s.handleMerkleProof)
	v1.POST("/merkle/verify", s.handleMerkleVerify)

	v1.POST("/commitments", s.handleCreateCommitment)
	v1.POST("/commitments/open", s.handleOpenCommitment)

	v1.POST("/proofs/range", s.handleRangeProof)
	v1.POST("/proofs/balance", s.handleBalanceProof)

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if s.recorder != nil {
			s.recorder.ObserveRequest(c.Request.Method, route, status, time.Since(start))
		}
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || c.FullPath() == "/healthz" {
			c.Next()
			return
		}
		if !s.limiter.Allow(c.ClientIP()) {
			if s.recorder != nil {
				s.recorder.RequestRejected("rate_limited")
			}
			s.log.Warn().Str("client", c.ClientIP()).Msg("rate limit exceeded")
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		if err := s.ledger.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	healthy, body := s.health(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
