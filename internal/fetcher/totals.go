package fetcher

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Guizzs26/shop-sync/internal/cache"
	"github.com/Guizzs26/shop-sync/internal/models"
)

const DefaultTotalTTL = 15 * time.Minute

// RemoteTotals reads total_count per resource and caches it
type RemoteTotals struct {
	source Source
	cache  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewRemoteTotals(src Source, store cache.Store, ttl time.Duration, logger *slog.Logger) *RemoteTotals {
	if ttl <= 0 {
		ttl = DefaultTotalTTL
	}
	return &RemoteTotals{source: src, cache: store, ttl: ttl, logger: logger}
}

// Total returns the remote record count of r. cached reports a cache hit.
func (t *RemoteTotals) Total(ctx context.Context, r models.Resource) (total int, cached bool, err error) {
	key := "remote_total:" + string(r)
	if v, ok, err := t.cache.Get(ctx, key); err != nil {
		t.logger.Warn("Remote total cache unavailable", "resource", r, "error", err)
	} else if ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n, true, nil
		}
	}

	n, err := t.source.TotalCount(ctx, r)
	if err != nil {
		return 0, false, err
	}
	if err := t.cache.Set(ctx, key, strconv.Itoa(n), t.ttl); err != nil {
		t.logger.Warn("Failed to cache remote total", "resource", r, "error", err)
	}
	return n, false, nil
}
