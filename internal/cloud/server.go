package cloud

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/project"
)

// ServerConfig configures the HTTP sync service.
type ServerConfig struct {
	Host string
	Port int
	// Token, when set, is required as a bearer token on every sync route.
	Token string
}

// Server serves a Table over HTTP.
type Server struct {
	echo   *echo.Echo
	table  *Table
	logger *zap.Logger
	config *ServerConfig
}

// NewServer creates the HTTP sync service.
func NewServer(table *Table, logger *zap.Logger, cfg *ServerConfig) (*Server, error) {
	if table == nil {
		return nil, fmt.Errorf("table cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &ServerConfig{Host: "localhost", Port: 8788}
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
			logger.Debug("cloud request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{echo: e, table: table, logger: logger, config: cfg}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := s.echo.Group("/api/v1/sync")
	if s.config.Token != "" {
		v1.Use(middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.config.Token)) == 1, nil
		}))
	}
	v1.GET("/snapshot", s.handleSnapshot)
	v1.PUT("/projects/:id", s.handlePush)
}

// ServeHTTP lets the server be mounted in tests with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) handleSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, s.table.wireSnapshot())
}

func (s *Server) handlePush(c echo.Context) error {
	var rec Record
	if err := c.Bind(&rec); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorBody{
			Kind:    project.KindInvalidArgument.String(),
			Message: "invalid request body",
		})
	}
	rec.ID = c.Param("id")

	if err := s.table.Push(c.Request().Context(), rec.ToRecord()); err != nil {
		kind := project.KindOf(err)
		status := http.StatusInternalServerError
		switch kind {
		case project.KindInvalidArgument:
			status = http.StatusBadRequest
		case project.KindConflict:
			status = http.StatusConflict
		}
		return c.JSON(status, ErrorBody{Kind: kind.String(), Message: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// Start listens on the configured address.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting cloud sync service", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down cloud sync service")
	return s.echo.Shutdown(ctx)
}
