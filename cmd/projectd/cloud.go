package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projectd/internal/cloud"
	"github.com/fyrsmithlabs/projectd/internal/config"
	"github.com/fyrsmithlabs/projectd/internal/logging"
)

// serveCloud runs the reference sync service until ctx is cancelled. The
// table lives in memory. table may be nil.
func serveCloud(ctx context.Context, cfg *config.Config, table *cloud.Table) error {
	logger, err := logging.NewLogger(&cfg.Logging, otelLogs(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying().Named("cloud")

	if table == nil {
		table = cloud.NewTable()
	}

	if cfg.Cloud.ServeNATS {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("projectd-cloud"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		defer func() {
			_ = nc.Drain()
		}()

		responder, err := cloud.Serve(nc, table, cfg.NATS.SubjectPrefix, zl)
		if err != nil {
			return fmt.Errorf("failed to serve NATS subjects: %w", err)
		}
		defer func() {
			_ = responder.Close()
		}()
	}

	srv, err := cloud.NewServer(table, zl, &cloud.ServerConfig{
		Host:  cfg.Cloud.Host,
		Port:  cfg.Cloud.Port,
		Token: cfg.Cloud.Token.Value(),
	})
	if err != nil {
		return fmt.Errorf("failed to create cloud server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("cloud server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zl.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("cloud server shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
