// Package httpapi exposes remindd over HTTP: the provider-facing webhook
// routes that drive the call flow, and a small operator API for starting
// and inspecting reminder calls.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/calyxhealth/remindd/internal/callflow"
	"github.com/calyxhealth/remindd/internal/store"
)

// CallFlow is the controller surface the server drives. *callflow.Controller
// is the production implementation.
type CallFlow interface {
	StartCall(ctx context.Context, patientNumber string) (*store.CallSession, error)
	Voice(ctx context.Context, callID string, retryCount int) string
	Gather(ctx context.Context, callID, transcript string, retryCount int) string
	Status(ctx context.Context, ev callflow.StatusEvent) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit is the per-client request rate for webhook routes; zero
	// disables limiting.
	RateLimit rate.Limit
	// RateBurst is the burst allowance when RateLimit is set.
	RateBurst int
}

// Server provides HTTP endpoints for remindd.
type Server struct {
	echo    *echo.Echo
	flow    CallFlow
	store   store.Store
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(flow CallFlow, st store.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if flow == nil {
		return nil, fmt.Errorf("call flow controller cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		flow:    flow,
		store:   st,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(s.metrics.Middleware())

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	webhooks := s.echo.Group("/webhooks")
	webhooks.Use(s.callContext())
	if s.config.RateLimit > 0 {
		burst := s.config.RateBurst
		if burst < 1 {
			burst = 1
		}
		webhooks.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:  s.config.RateLimit,
				Burst: burst,
			},
		)))
	}
	webhooks.POST("/voice", s.handleVoice)
	webhooks.POST("/gather", s.handleGather)
	webhooks.POST("/status", s.handleStatus)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/calls", s.handleStartCall)
	v1.GET("/calls", s.handleListCalls)
	v1.GET("/calls/:id", s.handleGetCall)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
