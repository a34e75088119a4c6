package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/cloud"
	"github.com/fyrsmithlabs/projectd/internal/project"
	"github.com/fyrsmithlabs/projectd/internal/syncengine"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
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

func TestPublisher_PassLifecycle(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("test.passes.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	ctx := context.Background()
	store := project.NewStore()
	_, err = store.Save(ctx, "a", "1")
	require.NoError(t, err)

	pub := NewPublisher(nc, "test", zap.NewNop())
	engine := syncengine.NewEngine(store, cloud.NewTable(), zap.NewNop(), syncengine.WithPublisher(pub))
	report, err := engine.Run(ctx)
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, pub.Subject(report.PassID, "started"), msg.Subject)

	msg, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, pub.Subject(report.PassID, "completed"), msg.Subject)

	var ev PassEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "completed", ev.Status)
	assert.Equal(t, 1, ev.Counts[string(syncengine.ResultAppliedLocal)])
	assert.Empty(t, ev.Failed)
	require.NotNil(t, ev.FinishedAt)
}

func TestPublisher_NilConnIsNoop(t *testing.T) {
	pub := NewPublisher(nil, "", nil)
	r := &syncengine.Report{PassID: "p"}
	pub.PassStarted(context.Background(), r)
	pub.PassCompleted(context.Background(), r)
	assert.Equal(t, "projectd.sync.passes.p.started", pub.Subject("p", "started"))
}
