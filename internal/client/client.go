// Package client is a Go client for the projectd local HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/projectd/internal/backend"
	httpserver "github.com/fyrsmithlabs/projectd/internal/http"
	"github.com/fyrsmithlabs/projectd/internal/project"
	"github.com/fyrsmithlabs/projectd/internal/syncengine"
)

const (
	// DefaultServer is the address projectd serve listens on by default.
	DefaultServer = "http://localhost:8787"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 * 1024
)

// Client talks to a running projectd server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a client for the server at baseURL. An empty baseURL means
// DefaultServer.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultServer
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError is returned for non-2xx responses. It unwraps to a
// *project.Error of the same kind, so errors.Is(err, project.ErrNotFound)
// works across the wire.
type APIError struct {
	Status  int
	Kind    project.Kind
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return project.E(e.Kind, "", "", nil)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	var resp httpserver.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("server reports status %q", resp.Status)
	}
	return nil
}

// Save stores payload under id and returns the new version.
func (c *Client) Save(ctx context.Context, id, payload string) (int64, error) {
	var resp httpserver.SaveResponse
	err := c.do(ctx, http.MethodPut, projectPath(id), httpserver.SaveRequest{Payload: payload}, &resp)
	return resp.Version, err
}

// Load returns the payload stored under id.
func (c *Client) Load(ctx context.Context, id string) (string, error) {
	var resp httpserver.ProjectResponse
	err := c.do(ctx, http.MethodGet, projectPath(id), nil, &resp)
	return resp.Payload, err
}

// List returns the ids of live projects in insertion order.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var resp httpserver.ListResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/projects", nil, &resp)
	return resp.Projects, err
}

// Delete removes the project stored under id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, projectPath(id), nil, nil)
}

// Offline returns every live project with its payload.
func (c *Client) Offline(ctx context.Context) (map[string]string, error) {
	var resp httpserver.OfflineResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/offline", nil, &resp)
	return resp.Projects, err
}

// Sync runs a full reconciliation pass. With async set the server only
// queues a background pass and the report is nil; queued is false when the
// server has no scheduler or a pass is already pending.
func (c *Client) Sync(ctx context.Context, async bool) (report *syncengine.Report, queued bool, err error) {
	path := "/api/v1/sync"
	if async {
		path += "?async=true"
	}
	var resp httpserver.SyncResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Report, resp.Queued != nil && *resp.Queued, nil
}

// SyncProject saves payload under id and reconciles that project only.
func (c *Client) SyncProject(ctx context.Context, id, payload string) (*syncengine.Report, error) {
	var resp httpserver.SyncResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/sync/"+url.PathEscape(id), httpserver.SaveRequest{Payload: payload}, &resp)
	return resp.Report, err
}

// Stats returns store counters, the circuit state and the last full pass.
func (c *Client) Stats(ctx context.Context) (*backend.Stats, error) {
	var stats backend.Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func projectPath(id string) string {
	return "/api/v1/projects/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode, Kind: kindForStatus(resp.StatusCode)}

	var body httpserver.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Kind != "" {
		apiErr.Kind = project.ParseKind(body.Error.Kind)
		apiErr.Message = body.Error.Message
		return apiErr
	}
	var echoErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &echoErr); err == nil && echoErr.Message != "" {
		apiErr.Message = echoErr.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

// kindForStatus classifies responses that carry no error body, such as
// router 404s or proxy failures.
func kindForStatus(status int) project.Kind {
	switch status {
	case http.StatusBadRequest:
		return project.KindInvalidArgument
	case http.StatusNotFound:
		return project.KindNotFound
	case http.StatusConflict:
		return project.KindConflict
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return project.KindRemoteUnavailable
	case http.StatusGatewayTimeout:
		return project.KindTimeout
	default:
		return project.KindInternal
	}
}

// IsUnreachable reports whether err means the server could not be reached
// at all, as opposed to an error response.
func IsUnreachable(err error) bool {
	var apiErr *APIError
	return err != nil && !errors.As(err, &apiErr) && !errors.Is(err, context.Canceled)
}
