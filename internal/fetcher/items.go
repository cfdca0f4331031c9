package fetcher

import (
	"context"
	"fmt"

	"github.com/Guizzs26/shop-sync/internal/syncerr"
	"github.com/Guizzs26/shop-sync/pkg/infra"
	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

// ItemsResult reports one order line run
type ItemsResult struct {
	Orders int
	Lines  int
	Errors int
}

func (r ItemsResult) Summary() string {
	if r.Orders == 0 {
		return "No orders waiting for items."
	}
	return fmt.Sprintf("Items: orders %d, lines upserted %d, errors %d.", r.Orders, r.Lines, r.Errors)
}

// FetchItems mirrors the lines of up to limit ingested orders that have none
// yet. An order is only flagged as synced when all its lines were stored.
func (f *Fetcher) FetchItems(ctx context.Context, limit int) (ItemsResult, error) {
	var res ItemsResult
	ids, err := f.mirror.OrdersPendingItems(ctx, limit)
	if err != nil {
		return res, err
	}
	res.Orders = len(ids)

	for i, chunk := range chunks(ids, f.chunk) {
		if i > 0 {
			if err := f.pacer.Wait(ctx, infra.PhaseBetweenChunks); err != nil {
				return res, err
			}
		}

		orders, err := f.source.OrderLinesByIDs(ctx, chunk)
		if err != nil {
			metrics.FetchPages.WithLabelValues("order_items", "error").Inc()
			if syncerr.IsAuth(err) {
				return res, err
			}
			f.logger.Warn("⚠️ Item chunk failed", "orders", len(chunk), "error", err)
			res.Errors += len(chunk)
			continue
		}
		metrics.FetchPages.WithLabelValues("order_items", "ok").Inc()

		wanted := make(map[int64]bool, len(chunk))
		for _, id := range chunk {
			wanted[id] = true
		}
		var synced []int64
		for _, dto := range orders {
			if !wanted[dto.EntityID] {
				continue
			}
			wanted[dto.EntityID] = false
			complete := true
			for _, line := range dto.Lines() {
				if f.mirror.UpsertItem(ctx, line) {
					res.Lines++
				} else {
					complete = false
				}
			}
			if complete {
				synced = append(synced, dto.EntityID)
			} else {
				res.Errors++
			}
		}
		for _, pending := range wanted {
			if pending {
				res.Errors++
			}
		}

		if err := f.mirror.MarkItemsSynced(ctx, synced); err != nil {
			f.logger.Error("Failed to flag orders with synced items", "orders", len(synced), "error", err)
		}
	}

	f.logger.Info("🧾 Item run finished", "orders", res.Orders, "lines", res.Lines, "errors", res.Errors)
	return res, nil
}
