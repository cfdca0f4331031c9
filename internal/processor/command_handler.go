package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/shop-sync/internal/broker"
	"github.com/Guizzs26/shop-sync/internal/cache"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

// SeenTTL is how long a command id is remembered to ignore redeliveries
const SeenTTL = 24 * time.Hour

// Runner executes one operator command
type Runner interface {
	Run(ctx context.Context, cmd models.Command) (string, error)
}

// CommandHandler runs commands consumed from the broker exactly as the HTTP
// API would, skipping ids it has already completed
type CommandHandler struct {
	runner Runner
	seen   cache.Store
	logger *slog.Logger
}

func NewCommandHandler(runner Runner, seen cache.Store, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{runner: runner, seen: seen, logger: logger}
}

// HandleCommand decodes and runs a command. Malformed or rejected commands
// are dropped; retryable failures are requeued by the consumer.
func (h *CommandHandler) HandleCommand(ctx context.Context, body []byte) (err error) {
	start := time.Now()
	var cmd models.Command

	defer func() {
		status := "success"
		if err != nil {
			status = "transient_error"
			if isDrop(err) {
				status = "fatal_error"
			}
		}
		metrics.CommandDuration.WithLabelValues(status, string(cmd.Action)).Observe(time.Since(start).Seconds())
	}()

	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("%w: command unmarshal error: %v", broker.ErrDrop, err)
	}
	if cmd.Action == "" {
		return fmt.Errorf("%w: command without action", broker.ErrDrop)
	}

	l := h.logger.With("command_id", cmd.ID, "action", cmd.Action)

	key := "command:" + cmd.ID
	if cmd.ID != "" && h.seen != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, done, cerr := h.seen.Get(checkCtx, key)
		cancel()
		if cerr != nil {
			return fmt.Errorf("idempotency check failed: %w", cerr)
		}
		if done {
			l.Info("Command already processed, skipping to ACK")
			return nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutFor(cmd.Action))
	summary, err := h.runner.Run(runCtx, cmd)
	cancel()

	if err != nil {
		if syncerr.IsRetryable(err) {
			return fmt.Errorf("command %s failed: %w", cmd.Action, err)
		}
		l.Error("Command failed", "summary", summary, "error", err)
		return fmt.Errorf("%w: %v", broker.ErrDrop, err)
	}

	if cmd.ID != "" && h.seen != nil {
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if serr := h.seen.Set(markCtx, key, time.Now().UTC().Format(time.RFC3339), SeenTTL); serr != nil {
			l.Warn("Could not remember command id", "error", serr)
		}
		cancel()
	}

	l.Info("✅ Command completed", "summary", summary)
	return nil
}

// timeoutFor gives paginated and bulk actions more room than maintenance ones
func timeoutFor(a models.Action) time.Duration {
	switch a {
	case models.ActionFetch, models.ActionDetails, models.ActionItems, models.ActionDispatch, models.ActionBackfillRun:
		return 15 * time.Minute
	default:
		return time.Minute
	}
}

func isDrop(err error) bool {
	return errors.Is(err, broker.ErrDrop)
}
