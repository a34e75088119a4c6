// Package events publishes sync pass lifecycle events to NATS.
//
// Events are published to subjects:
//   - {prefix}.passes.{pass_id}.started
//   - {prefix}.passes.{pass_id}.completed
//
// Desktop shells subscribe to {prefix}.passes.*.completed to refresh their
// project list after a pass.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/syncengine"
)

// DefaultPrefix is the default subject prefix.
const DefaultPrefix = "projectd.sync"

// PassEvent is the published event body.
type PassEvent struct {
	PassID     string         `json:"pass_id"`
	Scope      string         `json:"scope,omitempty"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Failed     []string       `json:"failed,omitempty"`
}

// Publisher implements syncengine.Publisher over NATS. A nil connection
// makes every call a no-op.
type Publisher struct {
	nats   *nats.Conn
	prefix string
	logger *zap.Logger
}

var _ syncengine.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher on nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nats: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject for a pass event.
func (p *Publisher) Subject(passID, event string) string {
	return fmt.Sprintf("%s.passes.%s.%s", p.prefix, passID, event)
}

// PassStarted publishes the started event.
func (p *Publisher) PassStarted(ctx context.Context, r *syncengine.Report) {
	p.publish(r.PassID, "started", PassEvent{
		PassID:    r.PassID,
		Scope:     r.Scope,
		Status:    "running",
		StartedAt: r.StartedAt,
	})
}

// PassCompleted publishes the completed event with outcome counts.
func (p *Publisher) PassCompleted(ctx context.Context, r *syncengine.Report) {
	finished := r.FinishedAt
	ev := PassEvent{
		PassID:     r.PassID,
		Scope:      r.Scope,
		Status:     "completed",
		StartedAt:  r.StartedAt,
		FinishedAt: &finished,
		Counts:     make(map[string]int),
	}
	if r.Cancelled {
		ev.Status = "cancelled"
	}
	for result, n := range r.Counts() {
		ev.Counts[string(result)] = n
	}
	for _, o := range r.Failed() {
		ev.Failed = append(ev.Failed, o.ID)
	}
	p.publish(r.PassID, "completed", ev)
}

func (p *Publisher) publish(passID, event string, ev PassEvent) {
	if p.nats == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("events: marshal pass event", zap.Error(err))
		return
	}
	if err := p.nats.Publish(p.Subject(passID, event), data); err != nil {
		p.logger.Warn("events: publish pass event",
			zap.String("sync.pass_id", passID),
			zap.String("event", event),
			zap.Error(err))
	}
}
