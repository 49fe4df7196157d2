package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tutordesk/internal/adapters/httpapi"
	"tutordesk/internal/adapters/reports"
	"tutordesk/internal/blob"
	"tutordesk/internal/config"
	"tutordesk/internal/core"
	"tutordesk/internal/infra/identity"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg, os.Stderr)

	provider, err := identity.NewTokenProvider(identity.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: cfg.SessionTTL})
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	docs, err := core.OpenDocumentStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := docs.Close(); err != nil {
			logger.Error("close document store", "error", err)
		}
	}()
	artifacts, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("blob: %w", err)
	}

	metrics := core.NewPrometheusMetricsRecorder()
	svc := core.NewService(docs, provider, core.WithLogger(logger), core.WithMetricsRecorder(metrics))
	svc.Start(ctx)
	defer svc.Close()

	worker := reports.NewWorker(svc, artifacts, reports.WithQueueSize(cfg.ExportQueueSize), reports.WithLogger(logger))
	worker.Start()
	following := worker.Follow(svc.Gate())
	defer following.Unsubscribe()

	api := httpapi.NewServer(svc, provider,
		httpapi.WithReports(worker),
		httpapi.WithMetricsHandler(metrics.Handler()),
		httpapi.WithLogger(logger),
	)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tutordesk listening", "addr", cfg.HTTPAddr, "storage", string(cfg.Storage.Driver), "blob", string(artifacts.Driver()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = worker.Stop(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("tutordesk shutting down")
	err = srv.Shutdown(shutdownCtx)
	if stopErr := worker.Stop(shutdownCtx); err == nil {
		err = stopErr
	}
	return err
}
