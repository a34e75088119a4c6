package http

import (
	"github.com/fyrsmithlabs/projectd/internal/syncengine"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SaveRequest is the request body for PUT /api/v1/projects/:id,
// POST /api/v1/projects and POST /api/v1/sync/:id. ID is only read by
// POST /api/v1/projects.
type SaveRequest struct {
	ID      string `json:"id,omitempty"`
	Payload string `json:"payload"`
}

// SaveResponse is returned after a save.
type SaveResponse struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// ProjectResponse is the response body for GET /api/v1/projects/:id.
type ProjectResponse struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

// ListResponse is the response body for GET /api/v1/projects.
type ListResponse struct {
	Projects []string `json:"projects"`
}

// OfflineResponse is the response body for GET /api/v1/offline.
type OfflineResponse struct {
	Projects map[string]string `json:"projects"`
}

// SyncResponse wraps a sync report. Queued is set only for async requests.
type SyncResponse struct {
	Report *syncengine.Report `json:"report,omitempty"`
	Queued *bool              `json:"queued,omitempty"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error kind and message.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
