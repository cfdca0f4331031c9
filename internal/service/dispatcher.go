package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/shop-sync/internal/channel"
	"github.com/Guizzs26/shop-sync/internal/contact"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
	"github.com/Guizzs26/shop-sync/pkg/infra"
	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

// DispatchQueue is the dispatch side of the queue store
type DispatchQueue interface {
	ClaimForDispatch(ctx context.Context, n int, states []models.State) ([]models.QueueRecord, error)
	CountMissingContactKey(ctx context.Context, states []models.State) (int, error)
	MarkDispatched(ctx context.Context, id int64, state models.State, lastErr string) error
}

// PayloadBuilder assembles the enriched contact of one order
type PayloadBuilder interface {
	Build(ctx context.Context, orderID int64) (contact.Payload, error)
}

// Pacer pauses between records
type Pacer interface {
	Wait(ctx context.Context, phase infra.Phase) error
}

// DispatchResult summarizes one dispatch batch
type DispatchResult struct {
	Channel      string
	Seen         int
	OK           int
	Retry        int
	Fatal        int
	MissingEmail int
}

func (r DispatchResult) Errors() int { return r.Retry + r.Fatal }

func (r DispatchResult) Summary() string {
	if r.Seen == 0 && r.MissingEmail == 0 {
		return "No records to dispatch."
	}
	s := fmt.Sprintf("%s: seen %d / OK %d / errors %d", channelLabel(r.Channel), r.Seen, r.OK, r.Errors())
	if r.MissingEmail > 0 {
		s += fmt.Sprintf(" (%d without email)", r.MissingEmail)
	}
	return s
}

func channelLabel(name string) string {
	if name == channel.MauticName {
		return "Mautic"
	}
	return name
}

// Dispatcher reconciles ingested records with the primary channel and then
// fans them out to mirror channels
type Dispatcher struct {
	queue   DispatchQueue
	builder PayloadBuilder
	primary channel.Channel
	mirrors []channel.Channel
	pacer   Pacer
	logger  *slog.Logger
}

func NewDispatcher(q DispatchQueue, b PayloadBuilder, primary channel.Channel, mirrors []channel.Channel, pacer Pacer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		builder: b,
		primary: primary,
		mirrors: mirrors,
		pacer:   pacer,
		logger:  logger,
	}
}

// Dispatch claims up to limit records whose dispatch state is in states and
// delivers them one by one. An AuthError marks the current and remaining
// records retry and is returned as is.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int, states []models.State) (DispatchResult, error) {
	res := DispatchResult{Channel: d.primary.Name()}
	l := d.logger.With("run_id", uuid.NewString(), "action", models.ActionDispatch)

	if len(states) == 0 {
		states = []models.State{models.StatePending, models.StateRetry}
	}

	missing, err := d.queue.CountMissingContactKey(ctx, states)
	if err != nil {
		l.Warn("Could not count records without email", "error", err)
	} else if missing > 0 {
		res.MissingEmail = missing
		l.Warn("Records without email are never dispatched", "count", missing)
	}

	records, err := d.queue.ClaimForDispatch(ctx, limit, states)
	if err != nil {
		return res, fmt.Errorf("claim dispatch batch: %w", err)
	}
	if len(records) == 0 {
		return res, nil
	}
	metrics.QueueTransitions.WithLabelValues("dispatch", string(models.StateProcessing)).Add(float64(len(records)))

	for i, rec := range records {
		if i > 0 {
			if werr := d.pacer.Wait(ctx, infra.PhaseBetweenRecords); werr != nil {
				d.abandon(records[i:], "interrupted: "+werr.Error(), l)
				return res, werr
			}
		}

		res.Seen++
		result := d.deliver(ctx, rec, l)

		switch result.Status {
		case channel.StatusOK:
			res.OK++
			d.mark(rec.RemoteID, models.StateDone, "", l)
		case channel.StatusFatal:
			res.Fatal++
			d.mark(rec.RemoteID, models.StateError, errText(result.Err), l)
		default:
			res.Retry++
			d.mark(rec.RemoteID, models.StateRetry, errText(result.Err), l)
			if syncerr.IsAuth(result.Err) {
				d.abandon(records[i+1:], result.Err.Error(), l)
				l.Error("🔒 Contact API rejected credentials, aborting batch", "error", result.Err, "remaining", len(records)-i-1)
				return res, result.Err
			}
		}
	}

	l.Info("📨 Dispatch batch finished", "summary", res.Summary())
	return res, nil
}

// deliver builds, remaps and sends one record. Mirrors only run after the
// primary channel accepted it.
func (d *Dispatcher) deliver(ctx context.Context, rec models.QueueRecord, l *slog.Logger) channel.Result {
	start := time.Now()
	rl := l.With("remote_id", rec.RemoteID)

	payload, err := d.builder.Build(ctx, rec.RemoteID)
	if err != nil {
		rl.Warn("Could not build contact payload", "error", err)
		return d.observe(d.primary.Name(), start, classifyBuildError(err))
	}

	req := channel.Request{RemoteID: rec.RemoteID, Payload: payload, Fields: contact.Remap(payload.Fields())}
	result := d.observe(d.primary.Name(), start, d.primary.Send(ctx, req))
	if result.Status != channel.StatusOK {
		rl.Warn("Primary channel did not accept the contact", "status", result.Status, "error", result.Err)
		return result
	}

	req.ContactID = result.ContactID
	for _, m := range d.mirrors {
		mstart := time.Now()
		mres := d.observe(m.Name(), mstart, m.Send(ctx, req))
		if mres.Status != channel.StatusOK {
			rl.Warn("Mirror channel failed", "channel", m.Name(), "status", mres.Status, "error", mres.Err)
		}
	}
	return result
}

func (d *Dispatcher) observe(name string, start time.Time, r channel.Result) channel.Result {
	metrics.DispatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.DispatchResults.WithLabelValues(name, string(r.Status)).Inc()
	return r
}

func (d *Dispatcher) mark(id int64, state models.State, reason string, l *slog.Logger) {
	ctx, cancel := cleanupContext()
	defer cancel()
	if err := d.queue.MarkDispatched(ctx, id, state, reason); err != nil {
		l.Error("Could not record dispatch outcome", "remote_id", id, "state", state, "error", err)
		return
	}
	metrics.QueueTransitions.WithLabelValues("dispatch", string(state)).Inc()
}

// abandon releases claimed records that were never attempted
func (d *Dispatcher) abandon(rest []models.QueueRecord, reason string, l *slog.Logger) {
	for _, rec := range rest {
		d.mark(rec.RemoteID, models.StateRetry, reason, l)
	}
}

// classifyBuildError closes records that can never be built and retries the rest
func classifyBuildError(err error) channel.Result {
	if syncerr.IsMissingKey(err) {
		return channel.Fatal(err)
	}
	return channel.Retry(err)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// cleanupContext outlives a cancelled caller so bookkeeping still lands
func cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
