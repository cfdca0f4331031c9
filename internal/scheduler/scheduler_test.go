package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/shop-sync/internal/cache"
	"github.com/Guizzs26/shop-sync/internal/config"
	"github.com/Guizzs26/shop-sync/internal/lease"
	"github.com/Guizzs26/shop-sync/internal/models"
)

type recordingRunner struct {
	mu   sync.Mutex
	cmds []models.Command
}

func (r *recordingRunner) Run(_ context.Context, cmd models.Command) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return "ok", nil
}

type slowRunner struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
	runs    atomic.Int32
}

func (r *slowRunner) Run(context.Context, models.Command) (string, error) {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	r.runs.Add(1)
	time.Sleep(r.delay)
	return "ok", nil
}

func newScheduler(t *testing.T) (*Scheduler, *lease.Locker, *recordingRunner) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locker := lease.NewLocker(cache.NewMemoryStore(), 0, logger)
	runner := &recordingRunner{}
	return New(context.Background(), locker, runner, logger), locker, runner
}

func TestGuard_RunsCommandWithFreshID(t *testing.T) {
	s, _, runner := newScheduler(t)
	job := Job{Name: "dispatch", Spec: "* * * * * *", Command: models.Command{Action: models.ActionDispatch, Limit: 5}}

	s.guard(job)()
	s.guard(job)()

	require.Len(t, runner.cmds, 2)
	assert.Equal(t, models.ActionDispatch, runner.cmds[0].Action)
	assert.Equal(t, 5, runner.cmds[0].Limit)
	assert.NotEmpty(t, runner.cmds[0].ID)
	assert.NotEqual(t, runner.cmds[0].ID, runner.cmds[1].ID)
	assert.False(t, runner.cmds[0].IssuedAt.IsZero())
}

func TestGuard_SkipsWhileLeaseHeld(t *testing.T) {
	s, locker, runner := newScheduler(t)
	job := Job{Name: "seed", Command: models.Command{Action: models.ActionFetch, Resource: "orders"}}

	release, ok, err := locker.TryAcquire(context.Background(), "seed")
	require.NoError(t, err)
	require.True(t, ok)

	s.guard(job)()
	assert.Empty(t, runner.cmds, "tick must be a no-op while another holder has the lease")

	release()
	s.guard(job)()
	assert.Len(t, runner.cmds, 1)
}

func TestGuard_JobLongerThanLeaseTTLNeverOverlaps(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locker := lease.NewLocker(cache.NewMemoryStore(), 100*time.Millisecond, logger)
	runner := &slowRunner{delay: 300 * time.Millisecond}
	s := New(context.Background(), locker, runner, logger)
	job := Job{Name: "seed", Command: models.Command{Action: models.ActionFetch, Resource: "orders"}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.guard(job)()
	}()

	time.Sleep(150 * time.Millisecond)
	s.guard(job)()
	wg.Wait()

	assert.Equal(t, int32(1), runner.peak.Load())
	assert.Equal(t, int32(1), runner.runs.Load(), "second tick must find the renewed lease")
}

func TestAdd(t *testing.T) {
	s, _, _ := newScheduler(t)

	assert.NoError(t, s.Add(Job{Name: "off"}))
	assert.NoError(t, s.Add(Job{Name: "every_minute", Spec: "0 * * * * *"}))
	assert.Error(t, s.Add(Job{Name: "broken", Spec: "every minute"}))
	assert.Len(t, s.cron.Entries(), 1)
}

func TestJobsFromConfig(t *testing.T) {
	jobs := JobsFromConfig(config.JobsConfig{
		SeedSpec:       "0 */10 * * * *",
		CatalogSpec:    "0 0 */6 * * *",
		SeedTarget:     400,
		DispatchBatch:  25,
		DispatchStates: "retry",
	})

	byName := map[string]Job{}
	for _, j := range jobs {
		byName[j.Name] = j
	}
	assert.Equal(t, 400, byName["seed"].Command.Target)
	assert.Equal(t, "retry", byName["dispatch"].Command.States)
	assert.Empty(t, byName["backfill"].Spec)
	assert.Equal(t, "products", byName["catalog_products"].Command.Resource)
	assert.NotContains(t, byName, "catalog_orders")
	assert.Len(t, jobs, 8)
}
