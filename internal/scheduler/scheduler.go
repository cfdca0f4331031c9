// Package scheduler runs operator actions on cron specs, one holder at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Guizzs26/shop-sync/internal/config"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

const jobTimeout = 15 * time.Minute

type Runner interface {
	Run(ctx context.Context, cmd models.Command) (string, error)
}

type Locker interface {
	TryAcquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

// Job binds a cron spec (with seconds) to a command
type Job struct {
	Name    string
	Spec    string
	Command models.Command
}

type Scheduler struct {
	cron   *cron.Cron
	locker Locker
	runner Runner
	ctx    context.Context
	logger *slog.Logger
}

// New builds a scheduler whose jobs run under ctx
func New(ctx context.Context, locker Locker, runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger}))),
		locker: locker,
		runner: runner,
		ctx:    ctx,
		logger: logger.With("component", "scheduler"),
	}
}

// cronLogger feeds robfig/cron's own messages into slog
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

// Add registers job. An empty spec leaves the job disabled.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		s.logger.Info("Job disabled", "job", job.Name)
		return nil
	}
	if _, err := s.cron.AddFunc(job.Spec, s.guard(job)); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.logger.Info("⏰ Job scheduled", "job", job.Name, "spec", job.Spec)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new ticks and waits for running ones
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// guard runs job only while holding lease:<job>. A tick that finds the
// lease held is a no-op.
func (s *Scheduler) guard(job Job) func() {
	return func() {
		l := s.logger.With("job", job.Name, "run_id", uuid.NewString())

		release, ok, err := s.locker.TryAcquire(s.ctx, job.Name)
		if err != nil {
			l.Error("Could not acquire lease", "error", err)
			return
		}
		if !ok {
			metrics.LeaseSkips.WithLabelValues(job.Name).Inc()
			l.Debug("Lease held elsewhere, skipping tick")
			return
		}
		defer release()

		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		cmd := job.Command
		cmd.ID = uuid.NewString()
		cmd.IssuedAt = time.Now().UTC()

		summary, err := s.runner.Run(ctx, cmd)
		if err != nil {
			l.Error("Scheduled job failed", "summary", summary, "error", err)
			return
		}
		l.Info("Scheduled job finished", "summary", summary)
	}
}

// JobsFromConfig maps the CRON_* settings to jobs
func JobsFromConfig(cfg config.JobsConfig) []Job {
	jobs := []Job{
		{Name: "seed", Spec: cfg.SeedSpec, Command: models.Command{Action: models.ActionFetch, Resource: string(models.ResourceOrders), Target: cfg.SeedTarget}},
		{Name: "details", Spec: cfg.DetailsSpec, Command: models.Command{Action: models.ActionDetails, Limit: cfg.DetailsBatch}},
		{Name: "items", Spec: cfg.ItemsSpec, Command: models.Command{Action: models.ActionItems, Limit: cfg.DetailsBatch}},
		{Name: "dispatch", Spec: cfg.DispatchSpec, Command: models.Command{Action: models.ActionDispatch, Limit: cfg.DispatchBatch, States: cfg.DispatchStates}},
		{Name: "backfill", Spec: cfg.BackfillSpec, Command: models.Command{Action: models.ActionBackfillRun, Limit: cfg.BackfillBatch}},
	}
	for _, r := range models.Resources {
		if r == models.ResourceOrders {
			continue
		}
		jobs = append(jobs, Job{
			Name:    "catalog_" + string(r),
			Spec:    cfg.CatalogSpec,
			Command: models.Command{Action: models.ActionFetch, Resource: string(r), Target: cfg.SeedTarget},
		})
	}
	return jobs
}
