// Package syncengine reconciles the local project store with a remote sync
// service using last-writer-wins on (version, updated_at).
//
// A pass snapshots the store, fetches the remote snapshot, and resolves every
// id present on either side independently. Remote calls run without the
// store lock and under a per-call timeout; local changes go back through the
// store's compare-and-set operations so edits made during a pass are never
// overwritten. Passes are serialized and concurrent triggers for the same
// scope share one pass.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/projectd/internal/project"
)

// Remote is the remote sync service.
type Remote interface {
	// FetchSnapshot returns every remote record, tombstones included.
	FetchSnapshot(ctx context.Context) (project.Snapshot, error)

	// Push creates or replaces the remote record for rec.ID.
	Push(ctx context.Context, rec project.Record) error
}

// Store is the subset of the project store the engine needs.
type Store interface {
	Snapshot(ctx context.Context) project.Snapshot
	Get(ctx context.Context, id string) (project.Record, bool)
	ApplyRemote(ctx context.Context, rec project.Record, expected project.Record) error
	Purge(ctx context.Context, id string, version int64) error
}

// Publisher receives pass lifecycle notifications.
type Publisher interface {
	PassStarted(ctx context.Context, r *Report)
	PassCompleted(ctx context.Context, r *Report)
}

type nopPublisher struct{}

func (nopPublisher) PassStarted(context.Context, *Report)   {}
func (nopPublisher) PassCompleted(context.Context, *Report) {}

var errCircuitOpen = errors.New("circuit breaker open")

const (
	// DefaultCallTimeout bounds each remote call.
	DefaultCallTimeout = 10 * time.Second

	// DefaultMaxRetries bounds re-resolution after a concurrent local edit.
	DefaultMaxRetries = 3
)

// Engine runs reconciliation passes.
type Engine struct {
	store  Store
	remote Remote
	logger *zap.Logger

	callTimeout time.Duration
	maxRetries  int
	breaker     *CircuitBreaker
	publisher   Publisher
	tracer      trace.Tracer
	now         func() time.Time

	passMu sync.Mutex
	group  singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallTimeout sets the per-remote-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithMaxRetries sets how many times a project is re-resolved after a
// concurrent local modification.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithBreaker sets the remote circuit breaker. nil disables it.
func WithBreaker(cb *CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = cb }
}

// WithPublisher sets the pass event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithTracer sets the tracer used for pass spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock overrides the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine reconciling store against remote.
func NewEngine(store Store, remote Remote, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:       store,
		remote:      remote,
		logger:      logger,
		callTimeout: DefaultCallTimeout,
		maxRetries:  DefaultMaxRetries,
		breaker:     NewCircuitBreaker(5, 30*time.Second),
		publisher:   nopPublisher{},
		tracer:      noop.NewTracerProvider().Tracer("projectd/sync"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breaker returns the engine's circuit breaker, possibly nil.
func (e *Engine) Breaker() *CircuitBreaker { return e.breaker }

// Run executes a whole-store pass. Per-project failures are reported in the
// Report; the returned error is non-nil only when ctx ends mid-pass, in which
// case the partial Report is returned alongside it.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	return e.run(ctx, "")
}

// RunProject executes a pass scoped to a single project id.
func (e *Engine) RunProject(ctx context.Context, id string) (*Report, error) {
	if id == "" {
		return nil, project.E(project.KindInvalidArgument, "sync", "", fmt.Errorf("project id cannot be empty"))
	}
	return e.run(ctx, id)
}

type passResult struct {
	report *Report
	err    error
}

func (e *Engine) run(ctx context.Context, scope string) (*Report, error) {
	v, _, _ := e.group.Do("pass:"+scope, func() (any, error) {
		e.passMu.Lock()
		defer e.passMu.Unlock()
		r, err := e.pass(ctx, scope)
		return passResult{report: r, err: err}, nil
	})
	res := v.(passResult)
	return res.report, res.err
}

type item struct {
	id        string
	local     project.Record
	hasLocal  bool
	remote    project.Record
	hasRemote bool
}

func (e *Engine) pass(ctx context.Context, scope string) (*Report, error) {
	report := &Report{
		PassID:    uuid.NewString(),
		Scope:     scope,
		StartedAt: e.now().UTC(),
	}
	ctx, span := e.tracer.Start(ctx, "sync.pass", trace.WithAttributes(
		attribute.String("sync.pass_id", report.PassID),
		attribute.String("sync.scope", scope),
	))
	defer span.End()

	logger := e.logger.With(zap.String("sync.pass_id", report.PassID))
	if scope != "" {
		logger = logger.With(zap.String("project.id", scope))
	}
	logger.Debug("sync: pass starting")
	e.publisher.PassStarted(ctx, report)

	local := e.localSnapshot(ctx, scope)

	var remote project.Snapshot
	err := e.call(ctx, "fetch", scope, func(ctx context.Context) error {
		var err error
		remote, err = e.remote.FetchSnapshot(ctx)
		return err
	})
	if err != nil {
		logger.Warn("sync: fetch snapshot failed", zap.Error(err))
		for _, id := range sortedKeys(local) {
			report.Outcomes = append(report.Outcomes, failed(id, err))
		}
		if len(local) == 0 && scope != "" {
			report.Outcomes = append(report.Outcomes, failed(scope, err))
		}
		span.SetStatus(codes.Error, err.Error())
		if cerr := ctx.Err(); cerr != nil {
			report.Cancelled = true
			return e.finish(ctx, span, logger, report, "cancelled"), cerr
		}
		return e.finish(ctx, span, logger, report, "remote_unavailable"), nil
	}
	if scope != "" {
		remote = filterScope(remote, scope)
	}

	ids := unionKeys(local, remote)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			logger.Info("sync: pass cancelled", zap.Int("resolved", len(report.Outcomes)), zap.Int("remaining", len(ids)-len(report.Outcomes)))
			span.SetStatus(codes.Error, "cancelled")
			return e.finish(ctx, span, logger, report, "cancelled"), err
		}
		it := &item{id: id}
		it.local, it.hasLocal = local[id]
		it.remote, it.hasRemote = remote[id]

		out := e.reconcile(ctx, it)
		if out.Result == ResultFailed {
			logger.Warn("sync: project failed", zap.String("project.id", id), zap.Error(out.Err))
		}
		report.Outcomes = append(report.Outcomes, out)
	}

	return e.finish(ctx, span, logger, report, "completed"), nil
}

func (e *Engine) finish(ctx context.Context, span trace.Span, logger *zap.Logger, report *Report, status string) *Report {
	report.FinishedAt = e.now().UTC()
	counts := report.Counts()
	span.SetAttributes(
		attribute.Int("sync.applied_local", counts[ResultAppliedLocal]),
		attribute.Int("sync.applied_remote", counts[ResultAppliedRemote]),
		attribute.Int("sync.conflict_resolved", counts[ResultConflictResolved]),
		attribute.Int("sync.unchanged", counts[ResultUnchanged]),
		attribute.Int("sync.failed", counts[ResultFailed]),
	)
	RecordReport(report, status)
	recordBreakerState(e.breaker)
	e.publisher.PassCompleted(ctx, report)

	logger.Info("sync: completed",
		zap.String("status", status),
		zap.Int("applied_local", counts[ResultAppliedLocal]),
		zap.Int("applied_remote", counts[ResultAppliedRemote]),
		zap.Int("conflict_resolved", counts[ResultConflictResolved]),
		zap.Int("unchanged", counts[ResultUnchanged]),
		zap.Int("failed", counts[ResultFailed]),
		zap.Duration("duration", report.Duration()))
	return report
}

func (e *Engine) localSnapshot(ctx context.Context, scope string) project.Snapshot {
	if scope == "" {
		return e.store.Snapshot(ctx)
	}
	snap := project.Snapshot{}
	if rec, ok := e.store.Get(ctx, scope); ok {
		snap[scope] = rec
	}
	return snap
}

// reconcile resolves one project, re-reading the local record when a
// concurrent edit invalidates the snapshot.
func (e *Engine) reconcile(ctx context.Context, it *item) Outcome {
	for attempt := 0; ; attempt++ {
		result, err := e.resolve(ctx, it)
		if err == nil {
			return Outcome{ID: it.id, Result: result}
		}
		if project.KindOf(err) != project.KindConflict {
			return failed(it.id, err)
		}
		if attempt >= e.maxRetries {
			return failed(it.id, fmt.Errorf("giving up after %d concurrent local modifications: %w", attempt+1, err))
		}
		e.logger.Debug("sync: local record changed during pass, re-resolving",
			zap.String("project.id", it.id), zap.Int("attempt", attempt+1))
		it.local, it.hasLocal = e.store.Get(ctx, it.id)
	}
}

// localWins applies last-writer-wins: higher version, then later
// updated_at, then local.
func localWins(local, remote project.Record) bool {
	if local.Version != remote.Version {
		return local.Version > remote.Version
	}
	return !remote.UpdatedAt.After(local.UpdatedAt)
}

func (e *Engine) resolve(ctx context.Context, it *item) (Result, error) {
	l, r := it.local, it.remote

	switch {
	case !it.hasLocal && !it.hasRemote:
		return ResultUnchanged, nil

	case it.hasLocal && !it.hasRemote:
		if l.Deleted {
			// Never reached the remote.
			return ResultAppliedLocal, e.store.Purge(ctx, l.ID, l.Version)
		}
		if err := e.push(ctx, it, l); err != nil {
			return "", err
		}
		return ResultAppliedLocal, nil

	case !it.hasLocal && it.hasRemote:
		if err := e.store.ApplyRemote(ctx, r, project.Record{}); err != nil {
			return "", err
		}
		if r.Deleted {
			return ResultUnchanged, nil
		}
		return ResultAppliedRemote, nil
	}

	if l.Equal(r) {
		if l.Deleted {
			return ResultUnchanged, e.store.Purge(ctx, l.ID, l.Version)
		}
		return ResultUnchanged, nil
	}

	if localWins(l, r) {
		if err := e.push(ctx, it, l); err != nil {
			return "", err
		}
		if l.Deleted {
			if err := e.store.Purge(ctx, l.ID, l.Version); err != nil {
				return "", err
			}
		}
		return classify(l, r, ResultAppliedLocal), nil
	}

	if err := e.store.ApplyRemote(ctx, r, l); err != nil {
		return "", err
	}
	return classify(r, l, ResultAppliedRemote), nil
}

// classify names the outcome of winner replacing loser when both sides held
// the project. A conflict needs both the versions and the payloads to differ;
// a version tie settled by timestamp is still applied but reports unchanged.
func classify(winner, loser project.Record, propagated Result) Result {
	switch {
	case winner.Deleted && loser.Deleted:
		return ResultUnchanged
	case winner.Deleted != loser.Deleted:
		return propagated
	case winner.Version != loser.Version && winner.Payload != loser.Payload:
		return ResultConflictResolved
	default:
		return ResultUnchanged
	}
}

func (e *Engine) push(ctx context.Context, it *item, rec project.Record) error {
	err := e.call(ctx, "push", rec.ID, func(ctx context.Context) error {
		return e.remote.Push(ctx, rec)
	})
	if err != nil {
		return err
	}
	it.remote, it.hasRemote = rec, true
	return nil
}

// call runs fn under the circuit breaker and the per-call timeout and maps
// its error into the project error taxonomy.
func (e *Engine) call(ctx context.Context, op, id string, fn func(context.Context) error) error {
	if e.breaker != nil && !e.breaker.Allow() {
		return project.E(project.KindRemoteUnavailable, op, id, errCircuitOpen)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		if e.breaker != nil {
			e.breaker.RecordSuccess()
		}
		return nil
	}

	if ctx.Err() != nil {
		// The pass itself was cancelled; not the remote's fault.
		return project.E(project.KindRemoteUnavailable, op, id, ctx.Err())
	}

	err = classifyRemoteError(callCtx, op, id, err)
	if e.breaker != nil {
		// Only an unreachable or slow remote counts against the breaker. A
		// rejection of one record still proves the remote is answering.
		switch project.KindOf(err) {
		case project.KindRemoteUnavailable, project.KindTimeout:
			e.breaker.RecordFailure()
		default:
			e.breaker.RecordSuccess()
		}
	}
	return err
}

func classifyRemoteError(callCtx context.Context, op, id string, err error) error {
	var perr *project.Error
	switch {
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return project.E(project.KindTimeout, op, id, err)
	case errors.As(err, &perr) && perr.Kind != project.KindConflict:
		if perr.Op == op && perr.ID == id {
			return err
		}
		return project.E(perr.Kind, op, id, err)
	default:
		return project.E(project.KindRemoteUnavailable, op, id, err)
	}
}

func sortedKeys(s project.Snapshot) []string {
	keys := make([]string, 0, len(s))
	for id := range s {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys
}

func unionKeys(a, b project.Snapshot) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for id := range a {
		seen[id] = struct{}{}
	}
	for id := range b {
		seen[id] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for id := range seen {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys
}

func filterScope(s project.Snapshot, id string) project.Snapshot {
	out := project.Snapshot{}
	if rec, ok := s[id]; ok {
		out[id] = rec
	}
	return out
}
