package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/project"
)

// statusFor maps an error kind to an HTTP status.
func statusFor(kind project.Kind) int {
	switch kind {
	case project.KindInvalidArgument:
		return http.StatusBadRequest
	case project.KindNotFound:
		return http.StatusNotFound
	case project.KindConflict:
		return http.StatusConflict
	case project.KindRemoteUnavailable:
		return http.StatusServiceUnavailable
	case project.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	kind := project.KindOf(err)
	if errors.Is(err, context.Canceled) {
		kind = project.KindRemoteUnavailable
	}
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: ErrorDetail{Kind: kind.String(), Message: err.Error()}})
}

func (s *Server) badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
		Kind:    project.KindInvalidArgument.String(),
		Message: msg,
	}})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListProjects(c echo.Context) error {
	ids := s.backend.ListProjects(c.Request().Context())
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, ListResponse{Projects: ids})
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "invalid request body")
	}
	version, err := s.backend.SaveProject(c.Request().Context(), req.ID, req.Payload)
	if err != nil {
		return s.fail(c, err)
	}
	status := http.StatusOK
	if version == 1 {
		status = http.StatusCreated
	}
	return c.JSON(status, SaveResponse{ID: req.ID, Version: version})
}

func (s *Server) handleSaveProject(c echo.Context) error {
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "invalid request body")
	}
	id := c.Param("id")
	version, err := s.backend.SaveProject(c.Request().Context(), id, req.Payload)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, SaveResponse{ID: id, Version: version})
}

func (s *Server) handleLoadProject(c echo.Context) error {
	id := c.Param("id")
	payload, err := s.backend.LoadProject(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, ProjectResponse{ID: id, Payload: payload})
}

func (s *Server) handleDeleteProject(c echo.Context) error {
	if err := s.backend.DeleteProject(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleOfflineData(c echo.Context) error {
	return c.JSON(http.StatusOK, OfflineResponse{Projects: s.backend.OfflineData(c.Request().Context())})
}

func (s *Server) handleSyncAll(c echo.Context) error {
	if c.QueryParam("async") == "true" {
		// Nothing is queued without a scheduler or while a pass is pending.
		queued := s.backend.TriggerSync()
		return c.JSON(http.StatusAccepted, SyncResponse{Queued: &queued})
	}
	report, err := s.backend.SyncAll(c.Request().Context())
	if err != nil && report == nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, SyncResponse{Report: report})
}

func (s *Server) handleSyncProject(c echo.Context) error {
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "invalid request body")
	}
	report, err := s.backend.SyncWithCloud(c.Request().Context(), c.Param("id"), req.Payload)
	if err != nil && report == nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, SyncResponse{Report: report})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.backend.Stats(c.Request().Context()))
}
