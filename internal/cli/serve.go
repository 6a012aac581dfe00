package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/httpapi"
	"github.com/Martian-dev/mailsync/internal/jobs"
	natsjs "github.com/Martian-dev/mailsync/internal/nats"
)

const consumerDurable = "mailsync-jobs"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, job dispatcher and HTTP trigger surface",
	Long: `Serve runs a sync cycle immediately and then every SYNC_INTERVAL_MINUTES,
drains the job outbox, and exposes the HTTP routes:

  GET  /healthz
  POST /sync/:connectionId
  GET  /sync/running
  GET  /connections/:connectionId/runs

Jobs are published to NATS JetStream when NATS_URL is set and run in-process
otherwise.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger.Info("starting mailsync", "version", Version, "driver", eventStore.Driver(), "worker_id", cfg.WorkerID)
	a := newApp(cfg, eventStore, logger)

	registry, err := newRegistry(cfg, eventStore, a.tokens, logger)
	if err != nil {
		return err
	}

	var publisher jobs.Publisher = jobs.LocalPublisher{Registry: registry}
	if cfg.NATSURL != "" {
		natsPublisher, err := natsjs.NewPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer natsPublisher.Close()
		if err := natsPublisher.EnsureStream(ctx); err != nil {
			return err
		}

		consumer := natsjs.NewConsumer(natsPublisher, consumerDurable, 5, logger)
		if err := consumer.Start(ctx, registry.Handle); err != nil {
			return err
		}
		defer func() {
			if err := consumer.Stop(); err != nil {
				logger.Warn("failed to drain job consumer", "error", err)
			}
		}()
		publisher = natsPublisher
		logger.Info("publishing jobs to NATS JetStream", "url", cfg.NATSURL)
	}

	var verifier auth.Verifier
	if cfg.AuthJWKSURL != "" {
		v, err := auth.NewJWTVerifier(ctx, cfg.AuthJWKSURL, 5*time.Minute)
		if err != nil {
			return fmt.Errorf("init JWT verifier: %w", err)
		}
		verifier = v
	}

	dispatcher := jobs.NewDispatcher(eventStore, publisher, logger)
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	a.manager.Start(ctx)

	api := &httpapi.Server{Syncs: a.manager, Runs: eventStore, Verifier: verifier, Logger: logger}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http server shutdown", "error", shutdownErr)
	}

	a.manager.StopAll()
	stopDispatch()
	<-dispatchDone
	return err
}
