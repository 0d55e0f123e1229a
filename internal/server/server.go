// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the optional HTTP status server.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-bot/internal/jobs"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultListen is the default listen address.
	DefaultListen = "127.0.0.1:8787"

	// healthCheckTimeout bounds the model runtime check in /health.
	healthCheckTimeout = 2 * time.Second

	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 5 * time.Second

	// requestsPerSecond is the per-client rate limit.
	requestsPerSecond = 20
)

// ============================================================================
// SERVER
// ============================================================================

// Checker checks the model runtime. *ollama.Runtime implements it.
type Checker interface {
	Check(ctx context.Context) error
	Model() string
}

// Server exposes queue statistics and health over HTTP.
type Server struct {
	echo      *echo.Echo
	queue     *jobs.Queue
	runtime   Checker
	listen    string
	version   string
	startTime time.Time
	logger    *zap.Logger
}

// New creates a Server. runtime may be nil.
func New(listen, version string, queue *jobs.Queue, runtime Checker, logger *zap.Logger) *Server {
	if listen == "" {
		listen = DefaultListen
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		queue:     queue,
		runtime:   runtime,
		listen:    listen,
		version:   version,
		startTime: time.Now(),
		logger:    logger,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(requestsPerSecond)))
	e.Use(RequestLogger(logger))

	s.setupRoutes()
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/jobs", s.handleJobs)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Model         string `json:"model,omitempty"`
	RuntimeStatus string `json:"runtime_status"`
	RuntimeError  string `json:"runtime_error,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth handles GET /health. A runtime that cannot be reached makes
// the bot degraded, not down: jobs fail but the bot still answers.
func (s *Server) handleHealth(c echo.Context) error {
	health := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		RuntimeStatus: "not_configured",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}

	if s.runtime != nil {
		health.Model = s.runtime.Model()
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
		defer cancel()

		if err := s.runtime.Check(ctx); err != nil {
			health.Status = "degraded"
			health.RuntimeStatus = "unavailable"
			health.RuntimeError = err.Error()
		} else {
			health.RuntimeStatus = "ok"
		}
	}

	return c.JSON(http.StatusOK, health)
}

// ============================================================================
// STATS & JOBS HANDLERS
// ============================================================================

// StatsResponse represents the queue statistics response.
type StatsResponse struct {
	jobs.Stats
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, StatsResponse{
		Stats:         s.queue.Stats(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// JobsResponse lists running, queued and recently finished jobs.
type JobsResponse struct {
	Jobs []jobs.JobInfo `json:"jobs"`
}

// handleJobs handles GET /jobs.
func (s *Server) handleJobs(c echo.Context) error {
	list := s.queue.Snapshot()
	if list == nil {
		list = []jobs.JobInfo{}
	}
	return c.JSON(http.StatusOK, JobsResponse{Jobs: list})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", s.listen))
		errCh <- s.echo.Start(s.listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info("status server shutting down")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
