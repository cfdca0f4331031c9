package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/shop-sync/internal/models"
)

// BackfillEntry is the latest order of one customer waiting for dispatch
type BackfillEntry struct {
	Email         string  `db:"email"`
	OrderEntityID int64   `db:"order_entity_id"`
	State         string  `db:"state"`
	LastError     *string `db:"last_error"`
}

// BackfillStore holds one row per customer email
type BackfillStore struct {
	pool *pgxpool.Pool
}

// Build queues the latest ingested order of every email not queued before
func (s *BackfillStore) Build(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO backfill_queue (email, order_entity_id)
		SELECT DISTINCT ON (lower(o.customer_email)) lower(o.customer_email), o.entity_id
		FROM orders o
		JOIN queue_records q ON q.remote_id = o.entity_id AND q.state = 'done'
		WHERE COALESCE(o.customer_email, '') <> ''
		ORDER BY lower(o.customer_email), o.created_at DESC NULLS LAST, o.entity_id DESC
		ON CONFLICT (email) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("build backfill queue: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Pending returns up to n pending entries, oldest first
func (s *BackfillStore) Pending(ctx context.Context, n int) ([]BackfillEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT email, order_entity_id, state, last_error
		FROM backfill_queue
		WHERE state = 'pending'
		ORDER BY created_at ASC, email ASC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("select backfill entries: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[BackfillEntry])
}

// MarkDone closes an entry, keeping lastErr when the dispatch was fatal
func (s *BackfillStore) MarkDone(ctx context.Context, email, lastErr string) error {
	var errArg *string
	if lastErr != "" {
		e := models.TruncateError(lastErr)
		errArg = &e
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE backfill_queue SET state = 'done', last_error = $2, updated_at = NOW()
		WHERE email = $1
	`, email, errArg)
	if err != nil {
		return fmt.Errorf("mark backfill %s done: %w", email, err)
	}
	return nil
}

func (s *BackfillStore) Progress(ctx context.Context) (models.Progress, error) {
	var p models.Progress
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE state = 'done') FROM backfill_queue
	`).Scan(&p.Total, &p.Done)
	if err != nil {
		return p, fmt.Errorf("backfill progress: %w", err)
	}
	p.Remaining = p.Total - p.Done
	return p, nil
}

func (s *BackfillStore) Truncate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE backfill_queue`); err != nil {
		return fmt.Errorf("truncate backfill queue: %w", err)
	}
	return nil
}
