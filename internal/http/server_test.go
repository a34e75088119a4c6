package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/projectd/internal/backend"
	"github.com/fyrsmithlabs/projectd/internal/cloud"
	"github.com/fyrsmithlabs/projectd/internal/logging"
	"github.com/fyrsmithlabs/projectd/internal/project"
	"github.com/fyrsmithlabs/projectd/internal/syncengine"
)

type downRemote struct{}

func (downRemote) FetchSnapshot(context.Context) (project.Snapshot, error) {
	return nil, project.E(project.KindRemoteUnavailable, "fetch", "", errors.New("connection refused"))
}

func (downRemote) Push(context.Context, project.Record) error {
	return project.E(project.KindRemoteUnavailable, "push", "", errors.New("connection refused"))
}

type testEnv struct {
	server *Server
	store  *project.Store
	table  *cloud.Table
	logs   *logging.TestLogger
}

func setupTestServer(t *testing.T, remote syncengine.Remote) *testEnv {
	t.Helper()
	store := project.NewStore()
	table := cloud.NewTable()
	if remote == nil {
		remote = table
	}
	engine := syncengine.NewEngine(store, remote, zap.NewNop(), syncengine.WithBreaker(nil))
	b, err := backend.New(store, engine, zap.NewNop())
	require.NoError(t, err)

	logs := logging.NewTestLogger()
	s, err := NewServer(b, logs.Logger, &Config{Host: "127.0.0.1", Port: 0}, nil)
	require.NoError(t, err)
	return &testEnv{server: s, store: store, table: table, logs: logs}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	store := project.NewStore()
	engine := syncengine.NewEngine(store, cloud.NewTable(), zap.NewNop())
	b, err := backend.New(store, engine, nil)
	require.NoError(t, err)

	t.Run("defaults", func(t *testing.T) {
		s, err := NewServer(b, logging.Nop(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", s.config.Host)
		assert.Equal(t, backend.DefaultPort, s.config.Port)
	})

	t.Run("nil backend", func(t *testing.T) {
		_, err := NewServer(nil, logging.Nop(), nil, nil)
		assert.Error(t, err)
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewServer(b, nil, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t, nil)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestProjectRoutes(t *testing.T) {
	env := setupTestServer(t, nil)

	rec := env.do(t, http.MethodPut, "/api/v1/projects/p1", SaveRequest{Payload: "A"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, SaveResponse{ID: "p1", Version: 1}, decode[SaveResponse](t, rec))

	rec = env.do(t, http.MethodPut, "/api/v1/projects/p1", SaveRequest{Payload: "B"})
	assert.Equal(t, int64(2), decode[SaveResponse](t, rec).Version)

	rec = env.do(t, http.MethodPost, "/api/v1/projects", SaveRequest{ID: "p2", Payload: "C"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/projects/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ProjectResponse{ID: "p1", Payload: "B"}, decode[ProjectResponse](t, rec))

	rec = env.do(t, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, []string{"p1", "p2"}, decode[ListResponse](t, rec).Projects)

	rec = env.do(t, http.MethodGet, "/api/v1/offline", nil)
	assert.Equal(t, map[string]string{"p1": "B", "p2": "C"}, decode[OfflineResponse](t, rec).Projects)

	rec = env.do(t, http.MethodDelete, "/api/v1/projects/p1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, []string{"p2"}, decode[ListResponse](t, rec).Projects)
}

func TestListProjects_EmptyIsArray(t *testing.T) {
	env := setupTestServer(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/projects", nil)
	assert.JSONEq(t, `{"projects":[]}`, rec.Body.String())
}

func TestErrorMapping(t *testing.T) {
	env := setupTestServer(t, nil)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantKind string
	}{
		{"load missing", http.MethodGet, "/api/v1/projects/nope", nil, http.StatusNotFound, "not_found"},
		{"delete missing", http.MethodDelete, "/api/v1/projects/nope", nil, http.StatusNotFound, "not_found"},
		{"create without id", http.MethodPost, "/api/v1/projects", SaveRequest{Payload: "x"}, http.StatusBadRequest, "invalid_argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantKind, decode[ErrorResponse](t, rec).Error.Kind)
		})
	}
}

func TestInvalidBody(t *testing.T) {
	env := setupTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/projects/p1", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", decode[ErrorResponse](t, rec).Error.Kind)
}

func TestStatusFor(t *testing.T) {
	for kind, want := range map[project.Kind]int{
		project.KindInvalidArgument:   http.StatusBadRequest,
		project.KindNotFound:          http.StatusNotFound,
		project.KindConflict:          http.StatusConflict,
		project.KindRemoteUnavailable: http.StatusServiceUnavailable,
		project.KindTimeout:           http.StatusGatewayTimeout,
		project.KindInternal:          http.StatusInternalServerError,
	} {
		assert.Equal(t, want, statusFor(kind), kind.String())
	}
}

func TestSyncRoutes(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()

	_, err := env.store.Save(ctx, "local", "L")
	require.NoError(t, err)
	env.table.Put(project.Record{ID: "remote", Payload: "R", Version: 1, UpdatedAt: time.Now().UTC()})

	rec := env.do(t, http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SyncResponse](t, rec)
	require.NotNil(t, resp.Report)
	assert.Equal(t, map[syncengine.Result]int{
		syncengine.ResultAppliedLocal:  1,
		syncengine.ResultAppliedRemote: 1,
	}, resp.Report.Counts())

	rec = env.do(t, http.MethodGet, "/api/v1/projects/remote", nil)
	assert.Equal(t, "R", decode[ProjectResponse](t, rec).Payload)

	rec = env.do(t, http.MethodPost, "/api/v1/sync/edited", SaveRequest{Payload: "E"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[SyncResponse](t, rec)
	require.Len(t, resp.Report.Outcomes, 1)
	assert.Equal(t, "edited", resp.Report.Outcomes[0].ID)
	assert.Equal(t, syncengine.ResultAppliedLocal, resp.Report.Outcomes[0].Result)

	got, ok := env.table.Get("edited")
	require.True(t, ok)
	assert.Equal(t, "E", got.Payload)

	rec = env.do(t, http.MethodGet, "/api/v1/stats", nil)
	stats := decode[backend.Stats](t, rec)
	assert.Equal(t, 3, stats.Projects.Live)
	require.NotNil(t, stats.LastPass)
	assert.Empty(t, stats.LastPass.Scope)
}

func TestSync_RemoteDownReportsFailedOutcomes(t *testing.T) {
	env := setupTestServer(t, downRemote{})
	_, err := env.store.Save(context.Background(), "p1", "A")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SyncResponse](t, rec)
	require.Len(t, resp.Report.Outcomes, 1)
	assert.Equal(t, syncengine.ResultFailed, resp.Report.Outcomes[0].Result)
	assert.Equal(t, "remote_unavailable", resp.Report.Outcomes[0].Kind)

	rec = env.do(t, http.MethodGet, "/api/v1/projects/p1", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "local data stays available while offline")
}

func TestSyncAsync_WithoutSchedulerQueuesNothing(t *testing.T) {
	env := setupTestServer(t, nil)
	rec := env.do(t, http.MethodPost, "/api/v1/sync?async=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"queued":false}`, rec.Body.String())
}

func TestSyncAsync_QueuesOncePerPendingPass(t *testing.T) {
	store := project.NewStore()
	engine := syncengine.NewEngine(store, cloud.NewTable(), zap.NewNop())
	// Not started, so the first trigger stays pending.
	sched := syncengine.NewScheduler(engine, 0, zap.NewNop())
	b, err := backend.New(store, engine, zap.NewNop(), backend.WithScheduler(sched))
	require.NoError(t, err)
	s, err := NewServer(b, logging.Nop(), nil, nil)
	require.NoError(t, err)

	for _, want := range []string{`{"queued":true}`, `{"queued":false}`} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync?async=true", nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, want, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestLogging(t *testing.T) {
	env := setupTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	env.logs.AssertLogged(t, zapcore.InfoLevel, "http request")
	env.logs.AssertField(t, "http request", "request.id", "req-42")
}

func TestServerLifecycle(t *testing.T) {
	env := setupTestServer(t, nil)

	port, err := env.server.Listen()
	require.NoError(t, err)
	require.NotZero(t, port)

	done := make(chan error, 1)
	go func() { done <- env.server.Serve() }()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))
	assert.ErrorIs(t, <-done, http.ErrServerClosed)
}

func TestBackendStartServer(t *testing.T) {
	store := project.NewStore()
	engine := syncengine.NewEngine(store, cloud.NewTable(), zap.NewNop())
	b, err := backend.New(store, engine, zap.NewNop(),
		backend.WithServerFactory(Factory(logging.Nop(), &Config{Host: "127.0.0.1", Port: 0}, nil)))
	require.NoError(t, err)

	ctx := context.Background()
	port, err := b.StartServer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.StopServer(context.Background()) })

	_, err = b.StartServer(ctx)
	assert.ErrorIs(t, err, backend.ErrServerRunning)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/projects", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, b.StopServer(ctx))
	require.NoError(t, b.StopServer(ctx))
}
