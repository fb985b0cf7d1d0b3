package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgesync/forgesync/internal/bulksync"
	"github.com/forgesync/forgesync/internal/events"
	"github.com/forgesync/forgesync/internal/provider"
	"github.com/forgesync/forgesync/internal/ratelimit"
	"github.com/forgesync/forgesync/internal/reconcile"
	"github.com/forgesync/forgesync/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon: webhook listener plus periodic bulk sync",
	Long: `Run forgesync as a daemon. Webhook deltas are applied as they
arrive; a bulk sync pass runs on the configured interval to pick up
anything webhooks missed. Shuts down cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := provider.NewGitHubClient(cfg.GitHub())
		gov := ratelimit.NewGovernor(cfg.Governor())
		rec := reconcile.New(store, events.NewLogSink(logger), logger)
		orch := bulksync.NewOrchestrator(store, client, rec, gov, cfg.Retry(), cfg.Orchestrator(), logger)

		webhookCfg := cfg.WebhookServer()
		mux := http.NewServeMux()
		mux.Handle(webhookCfg.Path, webhook.NewHandler(store, rec, webhookCfg.Secret, logger))
		srv := &http.Server{
			Addr:              webhookCfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logger.Info("webhook listener started", "addr", webhookCfg.Addr, "path", webhookCfg.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()

		// Periodic bulk sync, with one pass at startup.
		ticker := time.NewTicker(cfg.SyncInterval())
		defer ticker.Stop()
		runSync := func() {
			if _, err := orch.SyncAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("bulk sync pass failed", "error", err)
			}
		}
		runSync()

		for {
			select {
			case <-ticker.C:
				runSync()
			case err := <-serveErr:
				return fmt.Errorf("webhook listener failed: %w", err)
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
