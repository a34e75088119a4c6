package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/backend"
	"github.com/fyrsmithlabs/projectd/internal/cloud"
	"github.com/fyrsmithlabs/projectd/internal/config"
	"github.com/fyrsmithlabs/projectd/internal/events"
	httpserver "github.com/fyrsmithlabs/projectd/internal/http"
	"github.com/fyrsmithlabs/projectd/internal/logging"
	"github.com/fyrsmithlabs/projectd/internal/project"
	"github.com/fyrsmithlabs/projectd/internal/remote"
	"github.com/fyrsmithlabs/projectd/internal/sqlitestore"
	"github.com/fyrsmithlabs/projectd/internal/syncengine"
	"github.com/fyrsmithlabs/projectd/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/projectd"

// dependencies holds the infrastructure the daemon wires together.
type dependencies struct {
	store    *project.Store
	db       *sqlitestore.DB
	remote   syncengine.Remote
	natsConn *nats.Conn
}

// Close releases resources in reverse order of acquisition.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		_ = d.natsConn.Drain()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// serve runs the daemon until ctx is cancelled. ready, when set, receives the
// bound HTTP port once the server is up.
//
// Startup order:
//  1. Logger and telemetry
//  2. Local store, NATS and the remote
//  3. Sync engine and background scheduler
//  4. Backend and its HTTP server
func serve(ctx context.Context, cfg *config.Config, ready func(port int)) error {
	if version != "dev" {
		cfg.Telemetry.ServiceVersion = version
	}

	logger, err := logging.NewLogger(&cfg.Logging, otelLogs(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, &cfg.Telemetry, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Shutdown)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "starting projectd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("remote.transport", cfg.Remote.Transport),
		zap.Bool("persistent", cfg.Store.Path != ""),
	)

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	engine := syncengine.NewEngine(deps.store, deps.remote, zl.Named("sync"),
		engineOptions(cfg, deps, tel, zl)...)

	scheduler := syncengine.NewScheduler(engine, cfg.Sync.Interval.Duration(), zl.Named("scheduler"))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	metrics := httpserver.NewHTTPMetrics(tel.Meter(instrumentationName+"/http"), zl)
	b, err := backend.New(deps.store, engine, zl,
		backend.WithScheduler(scheduler),
		backend.WithServerFactory(httpserver.Factory(logger, &httpserver.Config{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		}, metrics)),
	)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	port, err := b.StartServer(ctx)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info(ctx, "projectd ready", zap.Int("port", port))
	if ready != nil {
		ready(port)
	}

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := b.StopServer(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func otelLogs(cfg *config.Config) log.LoggerProvider {
	if !cfg.Logging.Output.OTEL {
		return nil
	}
	return global.GetLoggerProvider()
}

// initDependencies opens the store and connects the configured remote.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.Store.Path == "" {
		deps.store = project.NewStore(project.WithLogger(logger))
	} else {
		db, err := sqlitestore.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		deps.db = db
		store, err := project.Open(ctx, db, project.WithLogger(logger))
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to load projects from %s: %w", cfg.Store.Path, err)
		}
		deps.store = store
	}

	if cfg.Remote.Transport == config.TransportNATS || cfg.NATS.Events {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("projectd"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		deps.natsConn = nc
	}

	r, err := newRemote(cfg, deps.natsConn, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.remote = r
	return deps, nil
}

func newRemote(cfg *config.Config, nc *nats.Conn, logger *zap.Logger) (syncengine.Remote, error) {
	switch cfg.Remote.Transport {
	case config.TransportHTTP:
		return remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL:   cfg.Remote.URL,
			Token:     cfg.Remote.Token.Value(),
			RateLimit: cfg.Remote.RateLimit,
			Burst:     cfg.Remote.Burst,
		}, logger.Named("remote"))
	case config.TransportNATS:
		return remote.NewNATSClient(nc, cfg.NATS.SubjectPrefix, logger.Named("remote"))
	case config.TransportMemory:
		logger.Warn("using in-memory remote; synced data is lost on exit")
		return cloud.NewTable(), nil
	default:
		return nil, fmt.Errorf("unknown remote transport %q", cfg.Remote.Transport)
	}
}

func engineOptions(cfg *config.Config, deps *dependencies, tel *telemetry.Telemetry, logger *zap.Logger) []syncengine.Option {
	opts := []syncengine.Option{
		syncengine.WithCallTimeout(cfg.Sync.CallTimeout.Duration()),
		syncengine.WithMaxRetries(cfg.Sync.MaxRetries),
		syncengine.WithTracer(tel.Tracer(instrumentationName + "/sync")),
	}
	if cfg.Sync.BreakerThreshold > 0 {
		opts = append(opts, syncengine.WithBreaker(
			syncengine.NewCircuitBreaker(int32(cfg.Sync.BreakerThreshold), cfg.Sync.BreakerReset.Duration())))
	}
	if cfg.NATS.Events && deps.natsConn != nil {
		opts = append(opts, syncengine.WithPublisher(
			events.NewPublisher(deps.natsConn, cfg.NATS.EventsPrefix, logger.Named("events"))))
	}
	return opts
}
