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

// CycleResult reports one paginated fetch cycle
type CycleResult struct {
	Resource models.Resource
	Pages    int
	Seen     int
	Upserted int
	Skipped  int
	Errors   int
	Wrapped  bool
	Cursor   models.Cursor
	LastErr  string
}

func (r CycleResult) Summary() string {
	verb := "upserted"
	if r.Resource == models.ResourceOrders {
		verb = "inserted"
	}
	msg := fmt.Sprintf("%s: seen %d / %s %d / skipped %d / errors %d. Cursor now at page %d (pageSize=%d).",
		r.Resource, r.Seen, verb, r.Upserted, r.Skipped, r.Errors, r.Cursor.Page, r.Cursor.PageSize)
	if r.Wrapped {
		msg += " End of dataset reached, wrapped to page 1."
	}
	if r.LastErr != "" {
		msg += " Stopped early: " + r.LastErr
	}
	return msg
}

type sinkResult struct {
	upserted int
	skipped  int
	errors   int

	// halt is set when nothing of the page was stored; the cursor must stay
	halt error
}

// FetchCycle walks ceil(target/page_size) pages from the stored cursor.
// Orders are seeded into the queue, every other resource goes to the mirror.
// The cursor is persisted on every exit path, failed pages are never skipped.
func (f *Fetcher) FetchCycle(ctx context.Context, r models.Resource, target int) (CycleResult, error) {
	res := CycleResult{Resource: r}
	sink, err := f.sinkFor(r)
	if err != nil {
		return res, err
	}

	cur, err := f.cursors.Get(ctx, r)
	if err != nil {
		return res, fmt.Errorf("load cursor: %w", err)
	}
	cur = cur.Clamp()
	page := cur.Page
	total := -1

	log := f.logger.With("resource", r, "start_page", page, "page_size", cur.PageSize)
	pages := cur.PagesFor(target)

	var fatal error
	for i := 0; i < pages; i++ {
		if i > 0 {
			if err := f.pacer.Wait(ctx, infra.PhaseBetweenPages); err != nil {
				res.LastErr = err.Error()
				break
			}
		}

		if total >= 0 && (page-1)*cur.PageSize >= total {
			page, res.Wrapped = 1, true
			metrics.FetchPages.WithLabelValues(string(r), "empty").Inc()
			break
		}

		p, err := f.source.ListPage(ctx, r, page, cur.PageSize)
		if err != nil {
			metrics.FetchPages.WithLabelValues(string(r), "error").Inc()
			if syncerr.IsAuth(err) {
				fatal = err
				break
			}
			res.Errors++
			res.LastErr = err.Error()
			log.Warn("⚠️ Page request failed, cycle stops on this page", "page", page, "error", err)
			break
		}
		total = p.TotalCount

		if len(p.Items) == 0 {
			page, res.Wrapped = 1, true
			metrics.FetchPages.WithLabelValues(string(r), "empty").Inc()
			break
		}
		metrics.FetchPages.WithLabelValues(string(r), "ok").Inc()

		sr := sink(ctx, p.Items)
		if sr.halt != nil {
			res.Errors += sr.errors
			res.LastErr = sr.halt.Error()
			log.Warn("⚠️ Page could not be stored, cycle stops on this page", "page", page, "error", sr.halt)
			break
		}
		res.Pages++
		res.Seen += len(p.Items)
		res.Upserted += sr.upserted
		res.Skipped += sr.skipped
		res.Errors += sr.errors
		page++
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := f.cursors.Set(persistCtx, r, page, cur.PageSize); err != nil {
		log.Error("Failed to persist cursor", "page", page, "error", err)
		if fatal == nil {
			fatal = fmt.Errorf("persist cursor: %w", err)
		}
	}
	res.Cursor = models.Cursor{Resource: r, Page: page, PageSize: cur.PageSize}.Clamp()

	log.Info("📥 Fetch cycle finished",
		"pages", res.Pages, "seen", res.Seen, "upserted", res.Upserted,
		"skipped", res.Skipped, "errors", res.Errors, "next_page", res.Cursor.Page, "wrapped", res.Wrapped)
	return res, fatal
}

func (f *Fetcher) sinkFor(r models.Resource) (func(context.Context, []json.RawMessage) sinkResult, error) {
	switch r {
	case models.ResourceOrders:
		return f.seedOrders, nil
	case models.ResourceCustomers:
		return f.mirrorCustomers, nil
	case models.ResourceProducts:
		return f.mirrorProducts, nil
	case models.ResourceCategories:
		return f.mirrorCategories, nil
	default:
		return nil, fmt.Errorf("unsupported resource %q", r)
	}
}

func (f *Fetcher) seedOrders(ctx context.Context, items []json.RawMessage) sinkResult {
	var res sinkResult
	ids := make([]int64, 0, len(items))
	for _, raw := range items {
		var it struct {
			EntityID int64 `json:"entity_id"`
		}
		if err := json.Unmarshal(raw, &it); err != nil || it.EntityID <= 0 {
			res.skipped++
			continue
		}
		ids = append(ids, it.EntityID)
	}

	n, err := f.queue.Seed(ctx, ids)
	if err != nil {
		f.logger.Error("Failed to seed queue", "ids", len(ids), "error", err)
		res.errors += len(ids)
		res.halt = fmt.Errorf("seed page: %w", err)
		return res
	}
	metrics.QueueTransitions.WithLabelValues("fetch", string(models.StatePending)).Add(float64(n))
	res.upserted = n
	return res
}

func (f *Fetcher) mirrorCustomers(ctx context.Context, items []json.RawMessage) sinkResult {
	return mirrorEach(f, items, func(dto source.CustomerDTO) (bool, error) {
		c, err := dto.ToModel()
		if err != nil {
			return false, err
		}
		return f.mirror.UpsertCustomer(ctx, c), nil
	})
}

func (f *Fetcher) mirrorProducts(ctx context.Context, items []json.RawMessage) sinkResult {
	return mirrorEach(f, items, func(dto source.ProductDTO) (bool, error) {
		p, err := dto.ToModel()
		if err != nil {
			return false, err
		}
		return f.mirror.UpsertProduct(ctx, p), nil
	})
}

func (f *Fetcher) mirrorCategories(ctx context.Context, items []json.RawMessage) sinkResult {
	return mirrorEach(f, items, func(dto source.CategoryDTO) (bool, error) {
		c, err := dto.ToModel()
		if err != nil {
			return false, err
		}
		return f.mirror.UpsertCategory(ctx, c), nil
	})
}

// mirrorEach decodes every item into T and applies write. Undecodable items
// and items without a natural key are skipped, failed writes are errors.
func mirrorEach[T any](f *Fetcher, items []json.RawMessage, write func(T) (bool, error)) sinkResult {
	var res sinkResult
	for _, raw := range items {
		var dto T
		if err := json.Unmarshal(raw, &dto); err != nil {
			f.logger.Warn("Skipping undecodable item", "error", err)
			res.skipped++
			continue
		}
		ok, err := write(dto)
		switch {
		case err != nil:
			f.logger.Warn("Skipping item without natural key", "error", err)
			res.skipped++
		case ok:
			res.upserted++
		default:
			res.errors++
		}
	}
	return res
}
