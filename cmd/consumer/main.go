package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/shop-sync/internal/app"
	"github.com/Guizzs26/shop-sync/internal/broker"
	"github.com/Guizzs26/shop-sync/internal/config"
	"github.com/Guizzs26/shop-sync/internal/processor"
	"github.com/Guizzs26/shop-sync/internal/service"
	"github.com/Guizzs26/shop-sync/pkg/infra"
	"github.com/Guizzs26/shop-sync/pkg/infra/metrics"
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

	if cfg.RabbitMQURL == "" {
		logger.Error("CRITICAL: RABBITMQ_URL environment variable is missing")
		os.Exit(1)
	}

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Consumer initializing...", "queue", broker.CommandQueue)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("CRITICAL: bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	commands := processor.NewCommandHandler(a.Operator, a.Store, logger)
	feedback := service.NewFeedbackService(a.Repo.Queue(), logger)

	go metrics.Serve(ctx, cfg.MetricsAddr, "consumer", a.Healthy, logger)

	connBackoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Shutdown signal received")
			return
		default:
			consumer, err := broker.NewRabbitMQConsumer(cfg.RabbitMQURL, commands, feedback, logger)
			if err != nil {
				wait := connBackoff.Next()
				logger.Error("RabbitMQ connection failed, retrying...",
					"wait_duration", wait,
					"error", err,
				)

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
					continue
				}
			}

			connBackoff.Reset()
			logger.Info("✅ Connected to Broker. Listening for commands...")

			if err := consumer.Listen(ctx); err != nil {
				logger.Error("⚠️ Consumer connection lost", "error", err)
			}

			consumer.Close()
		}
	}
}
