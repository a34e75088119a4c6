// Package remote implements clients for the remote sync service.
//
// HTTPClient speaks JSON over HTTP with optional bearer authentication and
// client-side rate limiting. NATSClient speaks CBOR over NATS request/reply.
// Both map failures into the project error taxonomy.
package remote

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

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/projectd/internal/cloud"
	"github.com/fyrsmithlabs/projectd/internal/project"
)

const (
	defaultRateLimit = 20.0
	defaultBurst     = 10
	maxErrorBody     = 4 << 10
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL is the sync service root, e.g. https://sync.example.com.
	BaseURL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// RateLimit is the request rate in requests per second. Zero uses
	// the default; negative disables limiting.
	RateLimit float64
	Burst     int

	// Transport overrides the base round tripper.
	Transport http.RoundTripper
}

// HTTPClient is a Remote over HTTP.
type HTTPClient struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPClient creates an HTTP remote. Per-call deadlines come from the
// caller's context.
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote base URL must be http or https, got %q", base.Scheme)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
			Base:   transport,
		}
	}

	limit, burst := cfg.RateLimit, cfg.Burst
	if limit == 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	if limit < 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return &HTTPClient{
		base:    base,
		client:  &http.Client{Transport: transport},
		limiter: limiter,
		logger:  logger,
	}, nil
}

// FetchSnapshot retrieves every remote record.
func (c *HTTPClient) FetchSnapshot(ctx context.Context) (project.Snapshot, error) {
	var body cloud.SnapshotResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/snapshot", "", nil, &body); err != nil {
		return nil, err
	}
	return body.ToSnapshot(), nil
}

// Push uploads rec.
func (c *HTTPClient) Push(ctx context.Context, rec project.Record) error {
	data, err := json.Marshal(cloud.FromRecord(rec))
	if err != nil {
		return project.E(project.KindInvalidArgument, "push", rec.ID, err)
	}
	return c.do(ctx, http.MethodPut, "/api/v1/sync/projects/"+url.PathEscape(rec.ID), rec.ID, data, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path, id string, body []byte, out any) error {
	op := strings.ToLower(method) + " " + path

	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransport(ctx, op, id, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return project.E(project.KindInvalidArgument, op, id, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransport(ctx, op, id, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote: http call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode >= 300 {
		return statusError(op, id, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return project.E(project.KindRemoteUnavailable, op, id, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func classifyTransport(ctx context.Context, op, id string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return project.E(project.KindTimeout, op, id, err)
	}
	return project.E(project.KindRemoteUnavailable, op, id, err)
}

func statusError(op, id string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var body cloud.ErrorBody
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	err := fmt.Errorf("status %d: %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return project.E(project.KindConflict, op, id, err)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return project.E(project.KindTimeout, op, id, err)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return project.E(project.KindRemoteUnavailable, op, id, err)
	default:
		return project.E(project.KindInvalidArgument, op, id, err)
	}
}
