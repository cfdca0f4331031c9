// Package fetcher pulls records from the source API into the queue and the
// local mirror: paginated cycles, bulk detail fetches and order line fetches.
package fetcher

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/source"
	"github.com/Guizzs26/shop-sync/pkg/infra"
)

const DefaultChunkSize = 20

// Source is the part of the source client the fetchers need
type Source interface {
	ListPage(ctx context.Context, r models.Resource, page, size int) (source.Page, error)
	TotalCount(ctx context.Context, r models.Resource) (int, error)
	OrdersByIDs(ctx context.Context, ids []int64) ([]source.OrderDTO, error)
	OrderLinesByIDs(ctx context.Context, ids []int64) ([]source.OrderDTO, error)
}

type CursorStore interface {
	Get(ctx context.Context, r models.Resource) (models.Cursor, error)
	Set(ctx context.Context, r models.Resource, page, size int) error
}

type Queue interface {
	Seed(ctx context.Context, ids []int64) (int, error)
	ClaimPending(ctx context.Context, n int) ([]int64, error)
	MarkDone(ctx context.Context, id int64, fields json.RawMessage) error
	MarkError(ctx context.Context, ids []int64, reason string) error
	RevertToPending(ctx context.Context, ids []int64) error
}

type Mirror interface {
	UpsertOrder(ctx context.Context, o models.Order) bool
	UpsertCustomer(ctx context.Context, c models.Customer) bool
	UpsertItem(ctx context.Context, it models.OrderItem) bool
	UpsertProduct(ctx context.Context, p models.Product) bool
	UpsertCategory(ctx context.Context, c models.Category) bool
	RefreshCustomerStats(ctx context.Context, emails []string) error
	OrdersPendingItems(ctx context.Context, limit int) ([]int64, error)
	MarkItemsSynced(ctx context.Context, ids []int64) error
}

// Pacer pauses between pages and chunks
type Pacer interface {
	Wait(ctx context.Context, phase infra.Phase) error
}

type Fetcher struct {
	source  Source
	cursors CursorStore
	queue   Queue
	mirror  Mirror
	pacer   Pacer
	chunk   int
	logger  *slog.Logger
}

func New(src Source, cursors CursorStore, queue Queue, mirror Mirror, pacer Pacer, chunk int, logger *slog.Logger) *Fetcher {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Fetcher{
		source:  src,
		cursors: cursors,
		queue:   queue,
		mirror:  mirror,
		pacer:   pacer,
		chunk:   chunk,
		logger:  logger.With("component", "fetcher"),
	}
}

func chunks(ids []int64, size int) [][]int64 {
	var out [][]int64
	for size < len(ids) {
		ids, out = ids[size:], append(out, ids[:size:size])
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
