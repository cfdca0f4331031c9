package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Guizzs26/shop-sync/internal/channel"
	"github.com/Guizzs26/shop-sync/internal/contact"
	"github.com/Guizzs26/shop-sync/internal/db"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/pkg/infra"
)

const (
	MinBackfillBatch = 1
	MaxBackfillBatch = 500
)

// BackfillQueue stores one pending latest-order entry per customer email
type BackfillQueue interface {
	Build(ctx context.Context) (int, error)
	Pending(ctx context.Context, n int) ([]db.BackfillEntry, error)
	MarkDone(ctx context.Context, email, lastErr string) error
	Progress(ctx context.Context) (models.Progress, error)
	Truncate(ctx context.Context) error
}

type BackfillResult struct {
	Processed int
	OK        int
	Errors    int
	Stopped   bool
}

func (r BackfillResult) Summary() string {
	if r.Processed == 0 && !r.Stopped {
		return "Backfill: nothing pending."
	}
	s := fmt.Sprintf("Backfill: processed %d (OK=%d, errors=%d).", r.Processed, r.OK, r.Errors)
	if r.Stopped {
		s += " Stopped on a retryable failure."
	}
	return s
}

// Backfiller pushes every known customer's latest order once through the
// primary channel
type Backfiller struct {
	queue   BackfillQueue
	builder PayloadBuilder
	primary channel.Channel
	pacer   Pacer
	logger  *slog.Logger
}

func NewBackfiller(q BackfillQueue, b PayloadBuilder, primary channel.Channel, pacer Pacer, logger *slog.Logger) *Backfiller {
	return &Backfiller{queue: q, builder: b, primary: primary, pacer: pacer, logger: logger}
}

// Build queues the latest detailed order of every email not queued before
func (b *Backfiller) Build(ctx context.Context) (int, error) {
	n, err := b.queue.Build(ctx)
	if err != nil {
		return 0, fmt.Errorf("build backfill queue: %w", err)
	}
	b.logger.Info("🧱 Backfill queue built", "queued", n)
	return n, nil
}

// RunBatch dispatches up to n pending entries in FIFO order. A fatal result
// is closed with its error; a retryable one stays pending and stops the batch.
func (b *Backfiller) RunBatch(ctx context.Context, n int) (BackfillResult, error) {
	n = min(max(n, MinBackfillBatch), MaxBackfillBatch)
	l := b.logger.With("run_id", uuid.NewString(), "action", models.ActionBackfillRun)

	var res BackfillResult
	entries, err := b.queue.Pending(ctx, n)
	if err != nil {
		return res, fmt.Errorf("load backfill batch: %w", err)
	}

	for i, e := range entries {
		if i > 0 {
			if err := b.pacer.Wait(ctx, infra.PhaseBetweenRecords); err != nil {
				return res, err
			}
		}

		result := b.send(ctx, e)
		if result.Status == channel.StatusRetry {
			res.Stopped = true
			l.Warn("Backfill stopped, entry left pending", "email", e.Email, "error", result.Err)
			return res, nil
		}

		res.Processed++
		lastErr := ""
		if result.Status == channel.StatusOK {
			res.OK++
		} else {
			res.Errors++
			lastErr = errText(result.Err)
		}

		cctx, cancel := cleanupContext()
		err := b.queue.MarkDone(cctx, e.Email, lastErr)
		cancel()
		if err != nil {
			return res, fmt.Errorf("close backfill entry %s: %w", e.Email, err)
		}
	}

	l.Info("📨 Backfill batch finished", "summary", res.Summary())
	return res, nil
}

func (b *Backfiller) send(ctx context.Context, e db.BackfillEntry) channel.Result {
	payload, err := b.builder.Build(ctx, e.OrderEntityID)
	if err != nil {
		return classifyBuildError(err)
	}
	req := channel.Request{RemoteID: e.OrderEntityID, Payload: payload, Fields: contact.Remap(payload.Fields())}
	return b.primary.Send(ctx, req)
}

func (b *Backfiller) Progress(ctx context.Context) (models.Progress, error) {
	return b.queue.Progress(ctx)
}

func (b *Backfiller) Reset(ctx context.Context) error {
	return b.queue.Truncate(ctx)
}
