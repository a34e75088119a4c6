// Package http exposes the projectd backend over HTTP for the desktop shell
// and projctl.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/backend"
	"github.com/fyrsmithlabs/projectd/internal/logging"
)

// Server provides HTTP endpoints for projectd.
type Server struct {
	echo     *echo.Echo
	backend  *backend.Backend
	logger   *logging.Logger
	config   *Config
	metrics  *HTTPMetrics
	listener net.Listener
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server. metrics may be nil.
func NewServer(b *backend.Backend, logger *logging.Logger, cfg *Config, metrics *HTTPMetrics) (*Server, error) {
	if b == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: backend.DefaultPort,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogging(logger))
	if metrics != nil {
		e.Use(metrics.MetricsMiddleware())
	}

	s := &Server{
		echo:    e,
		backend: b,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogging attaches the request id to the request context and logs
// every request once it completes.
func requestLogging(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(req.Context(), rid)
			ctx = logging.WithLogger(ctx, logger)
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/projects", s.handleListProjects)
	v1.POST("/projects", s.handleCreateProject)
	v1.GET("/projects/:id", s.handleLoadProject)
	v1.PUT("/projects/:id", s.handleSaveProject)
	v1.DELETE("/projects/:id", s.handleDeleteProject)
	v1.GET("/offline", s.handleOfflineData)
	v1.POST("/sync", s.handleSyncAll)
	v1.POST("/sync/:id", s.handleSyncProject)
	v1.GET("/stats", s.handleStats)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Listen binds the configured address and returns the bound port. Port 0
// picks a free port.
func (s *Server) Listen() (int, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, err
	}
	s.listener = ln
	port := ln.Addr().(*net.TCPAddr).Port
	s.logger.Info(context.Background(), "http server listening", zap.String("addr", ln.Addr().String()))
	return port, nil
}

// Serve serves on the listener bound by Listen until Shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("http server: Listen must be called before Serve")
	}
	s.echo.Server.Handler = s.echo
	return s.echo.Server.Serve(s.listener)
}

// Start listens and serves. It blocks until Shutdown.
func (s *Server) Start() error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Factory adapts NewServer to backend.ServerFactory.
func Factory(logger *logging.Logger, cfg *Config, metrics *HTTPMetrics) backend.ServerFactory {
	return func(b *backend.Backend) (backend.Server, error) {
		return NewServer(b, logger, cfg, metrics)
	}
}
