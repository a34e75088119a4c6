package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/cloud"
	"github.com/fyrsmithlabs/projectd/internal/project"
)

func startCloud(t *testing.T, token string) (*cloud.Table, *httptest.Server) {
	t.Helper()
	table := cloud.NewTable()
	srv, err := cloud.NewServer(table, zap.NewNop(), &cloud.ServerConfig{Token: token})
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return table, ts
}

func TestNewHTTPClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid http", "http://localhost:8788", false},
		{"valid https with slash", "https://sync.example.com/", false},
		{"empty", "", true},
		{"bad scheme", "ftp://example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPClient(HTTPConfig{BaseURL: tt.baseURL}, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPClient_PushAndFetch(t *testing.T) {
	ctx := context.Background()
	table, ts := startCloud(t, "tok")

	client, err := NewHTTPClient(HTTPConfig{BaseURL: ts.URL, Token: "tok"}, zap.NewNop())
	require.NoError(t, err)

	updated := time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC)
	rec := project.Record{ID: "proj-1", Payload: `{"k":1}`, Version: 3, UpdatedAt: updated}
	require.NoError(t, client.Push(ctx, rec))

	stored, ok := table.Get("proj-1")
	require.True(t, ok)
	assert.True(t, stored.Equal(rec))

	snap, err := client.FetchSnapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, snap, "proj-1")
	assert.True(t, snap["proj-1"].Equal(rec), "round trip keeps nanosecond timestamps")
}

func TestHTTPClient_ErrorKinds(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthorized is remote unavailable", func(t *testing.T) {
		_, ts := startCloud(t, "right")
		client, err := NewHTTPClient(HTTPConfig{BaseURL: ts.URL, Token: "wrong"}, nil)
		require.NoError(t, err)
		_, err = client.FetchSnapshot(ctx)
		assert.Equal(t, project.KindRemoteUnavailable, project.KindOf(err))
	})

	t.Run("stale push is conflict", func(t *testing.T) {
		table, ts := startCloud(t, "")
		table.Put(project.Record{ID: "p", Payload: "new", Version: 9})
		client, err := NewHTTPClient(HTTPConfig{BaseURL: ts.URL}, nil)
		require.NoError(t, err)
		err = client.Push(ctx, project.Record{ID: "p", Payload: "old", Version: 2})
		assert.Equal(t, project.KindConflict, project.KindOf(err))
	})

	t.Run("server error is remote unavailable", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer ts.Close()
		client, err := NewHTTPClient(HTTPConfig{BaseURL: ts.URL}, nil)
		require.NoError(t, err)
		_, err = client.FetchSnapshot(ctx)
		assert.Equal(t, project.KindRemoteUnavailable, project.KindOf(err))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("deadline is timeout", func(t *testing.T) {
		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		client, err := NewHTTPClient(HTTPConfig{BaseURL: ts.URL}, nil)
		require.NoError(t, err)
		cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err = client.FetchSnapshot(cctx)
		assert.Equal(t, project.KindTimeout, project.KindOf(err))
	})

	t.Run("connection refused is remote unavailable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()
		client, err := NewHTTPClient(HTTPConfig{BaseURL: url}, nil)
		require.NoError(t, err)
		_, err = client.FetchSnapshot(ctx)
		assert.Equal(t, project.KindRemoteUnavailable, project.KindOf(err))
	})
}

func TestHTTPClient_RateLimited(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	defer ts.Close()

	client, err := NewHTTPClient(HTTPConfig{BaseURL: ts.URL, RateLimit: 1, Burst: 1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = client.FetchSnapshot(ctx)
	require.NoError(t, err)

	_, err = client.FetchSnapshot(ctx)
	require.Error(t, err, "second call cannot get a token before the deadline")
	assert.Equal(t, int32(1), hits.Load())
}
