package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/shop-sync/internal/fetcher"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/pkg/infra"
	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

const (
	DefaultRequeueDays  = 7
	DefaultDetailsLimit = 100
	DefaultItemsLimit   = 100
	DefaultDispatchMax  = 50

	// StaleClaimAfter outlives the longest action timeout, so only claims of
	// a dead run are older
	StaleClaimAfter = 30 * time.Minute
)

// ErrInvalidOption rejects option values that would break a component
var ErrInvalidOption = errors.New("invalid option value")

type Fetchers interface {
	FetchCycle(ctx context.Context, r models.Resource, target int) (fetcher.CycleResult, error)
	FetchDetails(ctx context.Context, limit int) (fetcher.DetailsResult, error)
	FetchItems(ctx context.Context, limit int) (fetcher.ItemsResult, error)
}

type Totals interface {
	Total(ctx context.Context, r models.Resource) (int, bool, error)
}

// QueueAdmin holds the maintenance operations over the queue
type QueueAdmin interface {
	RetryErrors(ctx context.Context) (int, int, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, int, error)
	RequeueDone(ctx context.Context, days int) (int, error)
	Stats(ctx context.Context) (models.QueueStats, error)
	Truncate(ctx context.Context) error
}

type CursorAdmin interface {
	Reset(ctx context.Context, r models.Resource) error
}

type OptionStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Operator runs every operator triggered action and reduces it to a one
// line summary. HTTP, broker commands, the CLI and the scheduler all go
// through it.
type Operator struct {
	fetchers   Fetchers
	totals     Totals
	dispatcher *Dispatcher
	backfill   *Backfiller
	queue      QueueAdmin
	cursors    CursorAdmin
	options    OptionStore
	pacer      *OptionPacer
	logger     *slog.Logger
}

type OperatorDeps struct {
	Fetchers   Fetchers
	Totals     Totals
	Dispatcher *Dispatcher
	Backfill   *Backfiller
	Queue      QueueAdmin
	Cursors    CursorAdmin
	Options    OptionStore
	Pacer      *OptionPacer
}

func NewOperator(d OperatorDeps, logger *slog.Logger) *Operator {
	return &Operator{
		fetchers:   d.Fetchers,
		totals:     d.Totals,
		dispatcher: d.Dispatcher,
		backfill:   d.Backfill,
		queue:      d.Queue,
		cursors:    d.Cursors,
		options:    d.Options,
		pacer:      d.Pacer,
		logger:     logger,
	}
}

// Run executes a command and returns its summary line
func (o *Operator) Run(ctx context.Context, cmd models.Command) (summary string, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ActionDuration.WithLabelValues(string(cmd.Action), status).Observe(time.Since(start).Seconds())
	}()

	if o.pacer != nil {
		o.pacer.Refresh(ctx)
	}

	switch cmd.Action {
	case models.ActionFetch:
		r, err := models.ParseResource(cmd.Resource)
		if err != nil {
			return "", err
		}
		return o.Fetch(ctx, r, cmd.Target)
	case models.ActionDetails:
		return o.Details(ctx, cmd.Limit)
	case models.ActionItems:
		return o.Items(ctx, cmd.Limit)
	case models.ActionDispatch:
		states, err := models.ParseStates(cmd.States)
		if err != nil {
			return "", err
		}
		return o.Dispatch(ctx, cmd.Limit, states)
	case models.ActionReset:
		r, err := models.ParseResource(cmd.Resource)
		if err != nil {
			return "", err
		}
		return o.Reset(ctx, r)
	case models.ActionRetry:
		return o.Retry(ctx)
	case models.ActionRequeue:
		return o.Requeue(ctx, cmd.Days)
	case models.ActionProgress:
		return o.Progress(ctx)
	case models.ActionBackfillBuild:
		return o.BackfillBuild(ctx)
	case models.ActionBackfillRun:
		return o.BackfillRun(ctx, cmd.Limit)
	default:
		return "", fmt.Errorf("unknown action %q", cmd.Action)
	}
}

func (o *Operator) Fetch(ctx context.Context, r models.Resource, target int) (string, error) {
	res, err := o.fetchers.FetchCycle(ctx, r, target)
	return res.Summary(), err
}

func (o *Operator) Details(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultDetailsLimit
	}
	o.reclaimStale(ctx)
	res, err := o.fetchers.FetchDetails(ctx, limit)
	return res.Summary(), err
}

func (o *Operator) Items(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultItemsLimit
	}
	res, err := o.fetchers.FetchItems(ctx, limit)
	return res.Summary(), err
}

func (o *Operator) Dispatch(ctx context.Context, limit int, states []models.State) (string, error) {
	if limit <= 0 {
		limit = DefaultDispatchMax
	}
	o.reclaimStale(ctx)
	res, err := o.dispatcher.Dispatch(ctx, limit, states)
	return res.Summary(), err
}

// Reset moves a cursor back to page 1. Resetting orders also empties the
// queue so the next cycle reseeds from scratch.
func (o *Operator) Reset(ctx context.Context, r models.Resource) (string, error) {
	if err := o.cursors.Reset(ctx, r); err != nil {
		return "", fmt.Errorf("reset %s cursor: %w", r, err)
	}
	msg := fmt.Sprintf("Cursor for %s reset to page 1.", r)
	if r == models.ResourceOrders {
		if err := o.queue.Truncate(ctx); err != nil {
			return msg, fmt.Errorf("empty queue: %w", err)
		}
		msg += " Queue emptied."
	}
	o.logger.Warn("🔄 Cursor reset by operator", "resource", r)
	return msg, nil
}

func (o *Operator) Retry(ctx context.Context) (string, error) {
	o.reclaimStale(ctx)
	fetch, dispatch, err := o.queue.RetryErrors(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Retry: %d fetch errors and %d dispatch failures back to pending.", fetch, dispatch), nil
}

// reclaimStale releases claims left behind by a crashed run. A failure only
// delays recovery to the next action, so it is logged.
func (o *Operator) reclaimStale(ctx context.Context) {
	fetch, dispatch, err := o.queue.ReclaimStale(ctx, StaleClaimAfter)
	if err != nil {
		o.logger.Error("Could not reclaim stale claims", "error", err)
		return
	}
	if fetch+dispatch > 0 {
		o.logger.Warn("♻️ Reclaimed records abandoned mid-run", "fetching", fetch, "processing", dispatch)
	}
}

func (o *Operator) Requeue(ctx context.Context, days int) (string, error) {
	if days <= 0 {
		days = DefaultRequeueDays
	}
	n, err := o.queue.RequeueDone(ctx, days)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Requeue: %d records dispatched in the last %d days back to pending.", n, days), nil
}

// Progress reports both lifecycles and refreshes the backlog gauges
func (o *Operator) Progress(ctx context.Context) (string, error) {
	stats, err := o.queue.Stats(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range []models.State{models.StatePending, models.StateFetching, models.StateDone, models.StateError} {
		metrics.QueueBacklog.WithLabelValues("fetch", string(s)).Set(float64(stats.ByState[s]))
	}
	for _, s := range []models.State{models.StatePending, models.StateProcessing, models.StateDone, models.StateRetry, models.StateError} {
		metrics.QueueBacklog.WithLabelValues("dispatch", string(s)).Set(float64(stats.DispatchByState[s]))
	}

	p := stats.Progress()
	d := stats.DispatchByState
	return fmt.Sprintf("Details: %d/%d done, %d remaining. Dispatch: pending %d / done %d / retry %d / error %d.",
		p.Done, p.Total, p.Remaining,
		d[models.StatePending], d[models.StateDone], d[models.StateRetry], d[models.StateError]), nil
}

// Stats returns the raw queue counters
func (o *Operator) Stats(ctx context.Context) (models.QueueStats, error) {
	return o.queue.Stats(ctx)
}

func (o *Operator) RemoteTotal(ctx context.Context, r models.Resource) (int, string, error) {
	total, cached, err := o.totals.Total(ctx, r)
	if err != nil {
		return 0, "", err
	}
	msg := fmt.Sprintf("%s: %d remote records.", r, total)
	if cached {
		msg = fmt.Sprintf("%s: %d remote records (cached).", r, total)
	}
	return total, msg, nil
}

func (o *Operator) BackfillBuild(ctx context.Context) (string, error) {
	n, err := o.backfill.Build(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Backfill: %d customers queued.", n), nil
}

func (o *Operator) BackfillRun(ctx context.Context, n int) (string, error) {
	res, err := o.backfill.RunBatch(ctx, n)
	return res.Summary(), err
}

func (o *Operator) BackfillProgress(ctx context.Context) (models.Progress, string, error) {
	p, err := o.backfill.Progress(ctx)
	if err != nil {
		return p, "", err
	}
	return p, fmt.Sprintf("Backfill: %d/%d done, %d remaining.", p.Done, p.Total, p.Remaining), nil
}

func (o *Operator) BackfillReset(ctx context.Context) (string, error) {
	if err := o.backfill.Reset(ctx); err != nil {
		return "", err
	}
	return "Backfill queue emptied.", nil
}

func (o *Operator) Option(ctx context.Context, key string) (string, bool, error) {
	return o.options.Get(ctx, key)
}

// SetOption stores a runtime option. Pacing keys must be non-negative Go durations.
func (o *Operator) SetOption(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidOption)
	}
	if strings.HasPrefix(key, "pace.") {
		if !isPhaseKey(key) {
			return fmt.Errorf("%w: unknown pacing phase %q", ErrInvalidOption, key)
		}
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err != nil || d < 0 {
			return fmt.Errorf("%w: %s needs a duration like 250ms", ErrInvalidOption, key)
		}
	}
	if err := o.options.Set(ctx, key, value); err != nil {
		return err
	}
	if o.pacer != nil {
		o.pacer.Refresh(ctx)
	}
	return nil
}

func isPhaseKey(key string) bool {
	for _, p := range infra.Phases {
		if p.OptionKey() == key {
			return true
		}
	}
	return false
}
