// Command syncctl runs one operator action against the configured stores and
// prints its summary line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/shop-sync/internal/app"
	"github.com/Guizzs26/shop-sync/internal/config"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/pkg/infra"
)

func main() {
	var cmd models.Command
	var action string
	flag.StringVar(&action, "action", "progress", "fetch, details, items, dispatch, reset, retry, requeue, progress, backfill_build or backfill_run")
	flag.StringVar(&cmd.Resource, "resource", string(models.ResourceOrders), "resource for fetch and reset")
	flag.IntVar(&cmd.Target, "target", models.DefaultPageSize, "records to walk per fetch cycle")
	flag.IntVar(&cmd.Limit, "limit", 0, "batch size for details, items, dispatch and backfill")
	flag.StringVar(&cmd.States, "states", "", "dispatch states, comma separated")
	flag.IntVar(&cmd.Days, "days", 0, "requeue window in days")
	flag.Parse()

	cmd.Action = models.Action(action)
	cmd.ID = uuid.NewString()
	cmd.IssuedAt = time.Now().UTC()

	if err := run(cmd); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd models.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := infra.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Operator.Run(ctx, cmd)
	if summary != "" {
		fmt.Println(summary)
	}
	return err
}
