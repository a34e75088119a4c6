package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/cloud"
	"github.com/fyrsmithlabs/projectd/internal/project"
)

// NATSClient is a Remote over NATS request/reply.
type NATSClient struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSClient creates a NATS remote on subjects under prefix.
func NewNATSClient(nc *nats.Conn, prefix string, logger *zap.Logger) (*NATSClient, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if prefix == "" {
		prefix = cloud.DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSClient{nc: nc, prefix: prefix, logger: logger}, nil
}

// FetchSnapshot requests every remote record.
func (c *NATSClient) FetchSnapshot(ctx context.Context) (project.Snapshot, error) {
	rep, err := c.request(ctx, "fetch", "", cloud.SnapshotSubject(c.prefix), nil)
	if err != nil {
		return nil, err
	}
	if rep.Snapshot == nil {
		return project.Snapshot{}, nil
	}
	return rep.Snapshot.ToSnapshot(), nil
}

// Push uploads rec.
func (c *NATSClient) Push(ctx context.Context, rec project.Record) error {
	data, err := cloud.Codec.Marshal(cloud.FromRecord(rec))
	if err != nil {
		return project.E(project.KindInvalidArgument, "push", rec.ID, err)
	}
	_, err = c.request(ctx, "push", rec.ID, cloud.PushSubject(c.prefix), data)
	return err
}

func (c *NATSClient) request(ctx context.Context, op, id, subject string, data []byte) (*cloud.Reply, error) {
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout):
			return nil, project.E(project.KindTimeout, op, id, err)
		default:
			return nil, project.E(project.KindRemoteUnavailable, op, id, err)
		}
	}

	var rep cloud.Reply
	if err := cbor.Unmarshal(msg.Data, &rep); err != nil {
		return nil, project.E(project.KindRemoteUnavailable, op, id, fmt.Errorf("decoding reply: %w", err))
	}
	if rep.Error != "" {
		c.logger.Debug("remote: nats request rejected", zap.String("subject", subject), zap.String("error", rep.Error))
		return nil, project.E(project.ParseKind(rep.Kind), op, id, errors.New(rep.Error))
	}
	return &rep, nil
}
