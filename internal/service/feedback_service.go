package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/shop-sync/internal/broker"
	"github.com/Guizzs26/shop-sync/internal/models"
)

type FeedbackRepository interface {
	MarkDispatchRetry(ctx context.Context, id int64, reason string) (bool, error)
}

// FeedbackService turns dead-lettered contact events back into dispatch retries
type FeedbackService struct {
	repo   FeedbackRepository
	logger *slog.Logger
}

func NewFeedbackService(r FeedbackRepository, l *slog.Logger) *FeedbackService {
	return &FeedbackService{repo: r, logger: l}
}

func (s *FeedbackService) HandleDeadLetter(ctx context.Context, body []byte) error {
	var ev models.ContactEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		s.logger.Error("Feedback: failed to unmarshal dead letter", "error", err)
		return fmt.Errorf("%w: %v", broker.ErrDrop, err)
	}
	if ev.RemoteID <= 0 {
		return fmt.Errorf("%w: dead letter %s without remote id", broker.ErrDrop, ev.EventID)
	}

	s.logger.Warn("Feedback: caught dead letter, scheduling dispatch retry",
		"event_id", ev.EventID,
		"remote_id", ev.RemoteID,
		"channel", ev.Channel)

	updated, err := s.repo.MarkDispatchRetry(ctx, ev.RemoteID, "contact event dead-lettered by broker")
	if err != nil {
		s.logger.Error("Feedback: failed to update postgres", "remote_id", ev.RemoteID, "error", err)
		return err
	}
	if !updated {
		s.logger.Info("Feedback: record not in a dispatched state, nothing to retry", "remote_id", ev.RemoteID)
	}
	return nil
}
