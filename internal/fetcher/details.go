package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/source"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
	"github.com/Guizzs26/shop-sync/pkg/infra"
	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

const reasonNotReturned = "not returned by API"

// DetailsResult reports one bulk detail run
type DetailsResult struct {
	Claimed  int
	OK       int
	Errors   int
	Reverted int
}

func (r DetailsResult) Summary() string {
	if r.Claimed == 0 {
		return "No pending orders."
	}
	msg := fmt.Sprintf("Details: processed %d (OK=%d, errors=%d).", r.Claimed, r.OK, r.Errors)
	if r.Reverted > 0 {
		msg += fmt.Sprintf(" %d returned to pending.", r.Reverted)
	}
	return msg
}

// FetchDetails claims up to limit pending ids and resolves them in sequential
// chunks through the bulk id filter. Ids missing from a response or from a
// failed chunk end in error. An auth failure hands the unprocessed claims back.
func (f *Fetcher) FetchDetails(ctx context.Context, limit int) (DetailsResult, error) {
	var res DetailsResult
	ids, err := f.queue.ClaimPending(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("claim pending records: %w", err)
	}
	res.Claimed = len(ids)
	if len(ids) == 0 {
		return res, nil
	}
	metrics.QueueTransitions.WithLabelValues("fetch", string(models.StateFetching)).Add(float64(len(ids)))

	batches := chunks(ids, f.chunk)
	for i, chunk := range batches {
		if i > 0 {
			if err := f.pacer.Wait(ctx, infra.PhaseBetweenChunks); err != nil {
				res.Reverted += f.revert(ctx, batches[i:])
				return res, err
			}
		}

		orders, err := f.source.OrdersByIDs(ctx, chunk)
		if err != nil {
			metrics.FetchPages.WithLabelValues("order_details", "error").Inc()
			if syncerr.IsAuth(err) {
				res.Reverted += f.revert(ctx, batches[i:])
				return res, err
			}
			f.logger.Warn("⚠️ Detail chunk failed", "ids", len(chunk), "error", err)
			f.markError(ctx, chunk, err.Error())
			res.Errors += len(chunk)
			continue
		}
		metrics.FetchPages.WithLabelValues("order_details", "ok").Inc()

		ok, failed := f.applyDetails(ctx, chunk, orders)
		res.OK += ok
		res.Errors += failed
	}

	f.logger.Info("📦 Detail run finished", "claimed", res.Claimed, "ok", res.OK, "errors", res.Errors)
	return res, nil
}

func (f *Fetcher) applyDetails(ctx context.Context, chunk []int64, orders []source.OrderDTO) (ok, failed int) {
	wanted := make(map[int64]bool, len(chunk))
	for _, id := range chunk {
		wanted[id] = true
	}

	returned := make(map[int64]bool, len(orders))
	var emails []string
	for _, dto := range orders {
		id := dto.EntityID
		if !wanted[id] || returned[id] {
			continue
		}
		returned[id] = true

		o, err := dto.ToModel()
		if err != nil {
			f.markError(ctx, []int64{id}, err.Error())
			failed++
			continue
		}
		if !f.mirror.UpsertOrder(ctx, o) {
			f.markError(ctx, []int64{id}, fmt.Sprintf("write failed: order %d could not be stored", id))
			failed++
			continue
		}
		if err := f.queue.MarkDone(ctx, id, PayloadFields(o)); err != nil {
			f.logger.Error("Failed to mark record done", "remote_id", id, "error", err)
			failed++
			continue
		}
		metrics.QueueTransitions.WithLabelValues("fetch", string(models.StateDone)).Inc()
		if o.CustomerEmail != "" {
			emails = append(emails, o.CustomerEmail)
		}
		ok++
	}

	var missing []int64
	for _, id := range chunk {
		if !returned[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		f.markError(ctx, missing, reasonNotReturned)
		failed += len(missing)
	}

	if err := f.mirror.RefreshCustomerStats(ctx, emails); err != nil {
		f.logger.Warn("Failed to refresh customer stats", "error", err)
	}
	return ok, failed
}

func (f *Fetcher) markError(ctx context.Context, ids []int64, reason string) {
	if err := f.queue.MarkError(ctx, ids, reason); err != nil {
		f.logger.Error("Failed to mark records as error", "ids", len(ids), "error", err)
		return
	}
	metrics.QueueTransitions.WithLabelValues("fetch", string(models.StateError)).Add(float64(len(ids)))
}

// revert hands the given batches back to pending, even when ctx is done
func (f *Fetcher) revert(ctx context.Context, batches [][]int64) int {
	var ids []int64
	for _, b := range batches {
		ids = append(ids, b...)
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := f.queue.RevertToPending(cleanupCtx, ids); err != nil {
		f.logger.Error("CRITICAL: failed to revert claimed records", "ids", len(ids), "error", err)
		return 0
	}
	return len(ids)
}

// PayloadFields is the scalar projection stored on the queue record
func PayloadFields(o models.Order) json.RawMessage {
	fields := map[string]string{
		"increment_id": o.IncrementID,
		"email":        o.CustomerEmail,
		"status":       o.Status,
	}
	if o.GrandTotal.Valid {
		fields["grand_total"] = o.GrandTotal.Decimal.StringFixed(2)
	}
	raw, _ := json.Marshal(fields)
	return raw
}
