package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/shop-sync/internal/api"
	"github.com/Guizzs26/shop-sync/internal/app"
	"github.com/Guizzs26/shop-sync/internal/config"
	"github.com/Guizzs26/shop-sync/internal/lease"
	"github.com/Guizzs26/shop-sync/internal/scheduler"
	"github.com/Guizzs26/shop-sync/pkg/infra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("CRITICAL: configuration rejected", "error", err)
		os.Exit(1)
	}
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Sync daemon initializing...", "dispatch_channel", cfg.DispatchChannel, "mirrors", cfg.MirrorChannels)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("CRITICAL: bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	sched := scheduler.New(ctx, lease.NewLocker(a.Store, cfg.Jobs.LeaseTTL, logger), a.Operator, logger)
	for _, job := range scheduler.JobsFromConfig(cfg.Jobs) {
		if err := sched.Add(job); err != nil {
			logger.Error("CRITICAL: invalid job schedule", "error", err)
			os.Exit(1)
		}
	}
	sched.Start()

	server := api.NewServer(cfg.HTTPAddr, api.NewRouter(a.Operator, a.Healthy, logger))
	go func() {
		logger.Info("🚀 Operator API online", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Operator API failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Operator API shutdown failed", "error", err)
	}
	sched.Stop()

	logger.Info("👋 Sync daemon stopped")
}
