// Package backend is the invocation surface the desktop shell calls into:
// project CRUD against the local store, offline data, cloud sync, and the
// lifecycle of the local HTTP server.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/project"
	"github.com/fyrsmithlabs/projectd/internal/syncengine"
)

// DefaultPort is the port the backend server listens on.
const DefaultPort = 8787

// ErrServerRunning is returned by StartServer when the server is already up.
var ErrServerRunning = errors.New("backend server already running")

// Server is a startable HTTP surface.
type Server interface {
	// Listen binds the listener and returns the bound port.
	Listen() (int, error)
	// Serve blocks serving requests until Shutdown.
	Serve() error
	Shutdown(ctx context.Context) error
}

// ServerFactory builds the server for a backend.
type ServerFactory func(b *Backend) (Server, error)

// Stats is the backend status summary.
type Stats struct {
	Projects project.Stats      `json:"projects"`
	Circuit  string             `json:"circuit,omitempty"`
	LastPass *syncengine.Report `json:"last_pass,omitempty"`
}

// Backend wires the store and the sync engine behind one API.
type Backend struct {
	store     *project.Store
	engine    *syncengine.Engine
	scheduler *syncengine.Scheduler
	factory   ServerFactory
	logger    *zap.Logger

	mu     sync.Mutex
	server Server
	port   int
	served chan struct{}

	lastMu sync.RWMutex
	last   *syncengine.Report
}

// Option configures a Backend.
type Option func(*Backend)

// WithScheduler routes whole-store sync requests through s.
func WithScheduler(s *syncengine.Scheduler) Option {
	return func(b *Backend) { b.scheduler = s }
}

// WithServerFactory sets how StartServer builds the server.
func WithServerFactory(f ServerFactory) Option {
	return func(b *Backend) { b.factory = f }
}

// New creates a backend.
func New(store *project.Store, engine *syncengine.Engine, logger *zap.Logger, opts ...Option) (*Backend, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("sync engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{store: store, engine: engine, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// SaveProject stores payload under id and returns the new version.
func (b *Backend) SaveProject(ctx context.Context, id, payload string) (int64, error) {
	return b.store.Save(ctx, id, payload)
}

// LoadProject returns the payload of a live project.
func (b *Backend) LoadProject(ctx context.Context, id string) (string, error) {
	return b.store.Load(ctx, id)
}

// ListProjects returns live project ids in insertion order.
func (b *Backend) ListProjects(ctx context.Context) []string {
	return b.store.List(ctx)
}

// DeleteProject tombstones a project.
func (b *Backend) DeleteProject(ctx context.Context, id string) error {
	return b.store.Delete(ctx, id)
}

// OfflineData returns every live payload keyed by id.
func (b *Backend) OfflineData(ctx context.Context) map[string]string {
	return b.store.OfflineData(ctx)
}

// SyncWithCloud saves payload under id when payload is non-empty and then
// reconciles that project with the remote.
func (b *Backend) SyncWithCloud(ctx context.Context, id, payload string) (*syncengine.Report, error) {
	if id == "" {
		return nil, project.E(project.KindInvalidArgument, "sync", "", fmt.Errorf("project id cannot be empty"))
	}
	if payload != "" {
		if _, err := b.store.Save(ctx, id, payload); err != nil {
			return nil, err
		}
	}
	report, err := b.engine.RunProject(ctx, id)
	b.remember(report)
	return report, err
}

// SyncAll reconciles the whole store with the remote.
func (b *Backend) SyncAll(ctx context.Context) (*syncengine.Report, error) {
	report, err := b.engine.Run(ctx)
	b.remember(report)
	return report, err
}

// TriggerSync queues a background whole-store pass. Returns false when no
// scheduler is configured or a pass is already queued.
func (b *Backend) TriggerSync() bool {
	if b.scheduler == nil {
		return false
	}
	return b.scheduler.Trigger()
}

func (b *Backend) remember(r *syncengine.Report) {
	if r == nil || r.Scope != "" {
		return
	}
	b.lastMu.Lock()
	b.last = r
	b.lastMu.Unlock()
}

// Stats summarizes the store and the most recent whole-store pass.
func (b *Backend) Stats(ctx context.Context) Stats {
	st := Stats{Projects: b.store.Stats(ctx)}
	if cb := b.engine.Breaker(); cb != nil {
		st.Circuit = cb.State()
	}

	b.lastMu.RLock()
	st.LastPass = b.last
	b.lastMu.RUnlock()
	if b.scheduler != nil {
		if r := b.scheduler.LastReport(); r != nil && (st.LastPass == nil || r.StartedAt.After(st.LastPass.StartedAt)) {
			st.LastPass = r
		}
	}
	return st
}

// StartServer starts the HTTP server and returns the port it listens on.
func (b *Backend) StartServer(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server != nil {
		return b.port, ErrServerRunning
	}
	if b.factory == nil {
		return 0, fmt.Errorf("no server factory configured")
	}

	srv, err := b.factory(b)
	if err != nil {
		return 0, fmt.Errorf("creating backend server: %w", err)
	}
	port, err := srv.Listen()
	if err != nil {
		return 0, fmt.Errorf("binding backend server: %w", err)
	}

	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("backend server stopped", zap.Error(err))
		}
	}()

	b.server, b.port, b.served = srv, port, served
	b.logger.Info("backend server started", zap.Int("port", port))
	return port, nil
}

// StopServer gracefully stops the HTTP server. Stopping a stopped server is
// a no-op.
func (b *Backend) StopServer(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server == nil {
		return nil
	}
	err := b.server.Shutdown(ctx)
	select {
	case <-b.served:
	case <-ctx.Done():
	}
	b.server, b.port, b.served = nil, 0, nil
	b.logger.Info("backend server stopped")
	return err
}

// Port returns the bound port, or 0 when stopped.
func (b *Backend) Port() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}
