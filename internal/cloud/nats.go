package cloud

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/project"
)

// DefaultSubjectPrefix is the NATS subject prefix of the sync service.
const DefaultSubjectPrefix = "projectd.remote"

// Codec encodes NATS messages. Times keep nanosecond precision so that
// records round-trip exactly.
var Codec = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	return em
}

// SnapshotSubject and PushSubject name the request subjects under prefix.
func SnapshotSubject(prefix string) string { return prefix + ".snapshot" }
func PushSubject(prefix string) string     { return prefix + ".push" }

// Responder answers sync requests for a Table over NATS request/reply.
type Responder struct {
	table  *Table
	logger *zap.Logger
	subs   []*nats.Subscription
}

// Serve subscribes to the sync subjects under prefix.
func Serve(nc *nats.Conn, table *Table, prefix string, logger *zap.Logger) (*Responder, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	r := &Responder{table: table, logger: logger}

	snapSub, err := nc.Subscribe(SnapshotSubject(prefix), r.handleSnapshot)
	if err != nil {
		return nil, fmt.Errorf("subscribing to snapshot subject: %w", err)
	}
	pushSub, err := nc.Subscribe(PushSubject(prefix), r.handlePush)
	if err != nil {
		_ = snapSub.Unsubscribe()
		return nil, fmt.Errorf("subscribing to push subject: %w", err)
	}
	r.subs = []*nats.Subscription{snapSub, pushSub}

	if err := nc.Flush(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("flushing subscriptions: %w", err)
	}
	return r, nil
}

func (r *Responder) handleSnapshot(msg *nats.Msg) {
	snap := r.table.wireSnapshot()
	r.reply(msg, Reply{Snapshot: &snap})
}

func (r *Responder) handlePush(msg *nats.Msg) {
	var rec Record
	if err := cbor.Unmarshal(msg.Data, &rec); err != nil {
		r.reply(msg, Reply{Kind: project.KindInvalidArgument.String(), Error: "invalid record: " + err.Error()})
		return
	}
	if err := r.table.Push(context.Background(), rec.ToRecord()); err != nil {
		r.reply(msg, Reply{Kind: project.KindOf(err).String(), Error: err.Error()})
		return
	}
	r.reply(msg, Reply{})
}

func (r *Responder) reply(msg *nats.Msg, rep Reply) {
	data, err := Codec.Marshal(rep)
	if err != nil {
		r.logger.Error("cloud: encoding reply failed", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("cloud: reply failed", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Close unsubscribes the responder.
func (r *Responder) Close() error {
	var first error
	for _, s := range r.subs {
		if err := s.Unsubscribe(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
