// Package lease provides the short-lived mutual exclusion used to keep two
// scheduler ticks of the same job from overlapping.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/shop-sync/internal/cache"
)

const DefaultTTL = 60 * time.Second

// Locker hands out named leases that expire on their own after TTL
type Locker struct {
	store  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewLocker(store cache.Store, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{store: store, ttl: ttl, logger: logger}
}

// TryAcquire takes the lease for name. ok is false when another holder has it.
// While held, the lease is renewed every TTL/2 so work longer than the TTL
// keeps it. release stops the renewal and frees the lease; it is safe to call
// once the work is done, even after the lease was lost.
func (l *Locker) TryAcquire(ctx context.Context, name string) (release func(), ok bool, err error) {
	key := "lease:" + name
	owner := uuid.NewString()

	ok, err = l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, owner, stop, done)

	var once sync.Once
	release = func() {
		once.Do(func() {
			close(stop)
			<-done

			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := l.store.DeleteIfValue(cleanupCtx, key, owner); err != nil {
				l.logger.Error("Failed to release lease", "lease", name, "error", err)
			}
		})
	}
	return release, true, nil
}

func (l *Locker) renew(key, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			held, err := l.store.ExtendIfValue(ctx, key, owner, l.ttl)
			cancel()
			if err != nil {
				l.logger.Error("Failed to renew lease", "lease", key, "error", err)
				continue
			}
			if !held {
				l.logger.Warn("⚠️ Lease lost before the job finished", "lease", key)
				return
			}
		}
	}
}
