package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/projectd/internal/client"
	"github.com/fyrsmithlabs/projectd/internal/cloud"
	"github.com/fyrsmithlabs/projectd/internal/config"
	"github.com/fyrsmithlabs/projectd/internal/project"
	"github.com/fyrsmithlabs/projectd/internal/remote"
	"github.com/fyrsmithlabs/projectd/internal/sqlitestore"
	"github.com/fyrsmithlabs/projectd/internal/syncengine"
	"github.com/fyrsmithlabs/projectd/internal/telemetry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Sync.Interval = 0
	cfg.Remote.Transport = config.TransportMemory
	cfg.Logging.Level = zapcore.ErrorLevel
	return cfg
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "projectd by Fyrsmith Labs")
	assert.Contains(t, out.String(), "Version:    dev")
}

func TestRootCommand_UnknownSubcommand(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"frobnicate"})
	assert.Error(t, cmd.Execute())
}

func TestNewRemote(t *testing.T) {
	cfg := config.Default()

	r, err := newRemote(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &remote.HTTPClient{}, r)

	cfg.Remote.Transport = config.TransportMemory
	r, err = newRemote(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &cloud.Table{}, r)

	cfg.Remote.Transport = config.TransportNATS
	_, err = newRemote(cfg, nil, zap.NewNop())
	assert.Error(t, err, "nats transport needs a connection")

	cfg.Remote.Transport = "smoke"
	_, err = newRemote(cfg, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestEngineOptions(t *testing.T) {
	tel, err := telemetry.New(context.Background(), nil, zap.NewNop())
	require.NoError(t, err)

	cfg := config.Default()
	assert.Len(t, engineOptions(cfg, &dependencies{}, tel, zap.NewNop()), 4)

	cfg.Sync.BreakerThreshold = 0
	assert.Len(t, engineOptions(cfg, &dependencies{}, tel, zap.NewNop()), 3)

	cfg.NATS.Events = true
	assert.Len(t, engineOptions(cfg, &dependencies{}, tel, zap.NewNop()), 3, "events need a connection")
}

func TestServe_PersistsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Path = filepath.Join(t.TempDir(), "projects.db")

	run := func(fn func(c *client.Client)) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ports := make(chan int, 1)
		done := make(chan error, 1)
		go func() {
			done <- serve(ctx, cfg, func(port int) { ports <- port })
		}()

		var port int
		select {
		case port = <-ports:
		case err := <-done:
			t.Fatalf("serve exited early: %v", err)
		case <-time.After(10 * time.Second):
			t.Fatal("server did not become ready")
		}

		fn(client.New(fmt.Sprintf("http://127.0.0.1:%d", port)))
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("server did not shut down")
		}
	}

	run(func(c *client.Client) {
		ctx := context.Background()
		require.NoError(t, c.Health(ctx))
		_, err := c.Save(ctx, "notes", "draft")
		require.NoError(t, err)

		report, err := c.SyncProject(ctx, "notes", "final")
		require.NoError(t, err)
		out, ok := report.Outcome("notes")
		require.True(t, ok)
		assert.Equal(t, syncengine.ResultAppliedLocal, out.Result)

		stats, err := c.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Projects.Live)
		assert.Equal(t, "closed", stats.Circuit)
	})

	run(func(c *client.Client) {
		payload, err := c.Load(context.Background(), "notes")
		require.NoError(t, err)
		assert.Equal(t, "final", payload)
	})

	db, err := sqlitestore.Open(cfg.Store.Path)
	require.NoError(t, err)
	defer db.Close()
	store, err := project.Open(context.Background(), db)
	require.NoError(t, err)
	rec, ok := store.Get(context.Background(), "notes")
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.Version)
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestServeCloud_NATS(t *testing.T) {
	ns := startTestNATSServer(t)

	cfg := testConfig(t)
	cfg.Cloud.Host = "127.0.0.1"
	cfg.Cloud.Port = 0
	cfg.Cloud.ServeNATS = true
	cfg.NATS.URL = ns.ClientURL()

	table := cloud.NewTable()
	table.Put(project.Record{ID: "shared", Payload: "from-cloud", Version: 4})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveCloud(ctx, cfg, table)
	}()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	r, err := remote.NewNATSClient(nc, cfg.NATS.SubjectPrefix, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		reqCtx, reqCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer reqCancel()
		snap, err := r.FetchSnapshot(reqCtx)
		return err == nil && snap["shared"].Payload == "from-cloud"
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, r.Push(context.Background(), project.Record{ID: "pushed", Payload: "x", Version: 1}))
	_, ok := table.Get("pushed")
	assert.True(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("cloud server did not shut down")
	}
}
