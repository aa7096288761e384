package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/config"
	httpserver "github.com/fyrsmithlabs/ragkb/internal/http"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge-base HTTP API",
		Long: `Serve the knowledge-base HTTP API until interrupted.

Endpoints:
  POST /api/v1/kb              ingest JSON batches, or answer with ?ask
  POST /                       same as /api/v1/kb
  GET  /api/v1/collections/:n  collection stats
  GET  /api/v1/runs/:id        run state
  GET  /health                 liveness and store reachability
  GET  /metrics                prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

// runServer starts the HTTP server and blocks until ctx is cancelled, then
// shuts down within the configured timeout.
func runServer(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	opts := []httpserver.Option{
		httpserver.WithMeter(a.telemetry.Meter(meterPrefix + "internal/http")),
	}
	if p, ok := a.store.(vectorstore.Pinger); ok {
		opts = append(opts, httpserver.WithPinger(p))
	}

	srv, err := httpserver.NewServer(a.service, a.logger, &httpserver.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		BodyLimit: cfg.Server.BodyLimit,
	}, opts...)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "received shutdown signal",
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
