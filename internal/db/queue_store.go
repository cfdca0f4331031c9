package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/shop-sync/internal/models"
)

// QueueStore is the persistent per-record state machine. Every transition is
// guarded in SQL by the state it leaves from.
type QueueStore struct {
	pool *pgxpool.Pool
}

// Seed inserts ids as pending and ignores the ones already queued
func (s *QueueStore) Seed(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO queue_records (remote_id)
		SELECT DISTINCT unnest($1::bigint[])
		ON CONFLICT (remote_id) DO NOTHING
	`, ids)
	if err != nil {
		return 0, fmt.Errorf("seed queue: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimPending moves up to n pending records to fetching, oldest first.
// SKIP LOCKED keeps two claimers from ever sharing a record.
func (s *QueueStore) ClaimPending(ctx context.Context, n int) ([]int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT remote_id
		FROM queue_records
		WHERE state = 'pending'
		ORDER BY created_at ASC, remote_id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, n)
	if err != nil {
		return nil, fmt.Errorf("select pending records: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan pending records: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE queue_records SET state = 'fetching', updated_at = NOW()
		WHERE remote_id = ANY($1)
	`, ids); err != nil {
		return nil, fmt.Errorf("mark records as fetching: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return ids, nil
}

// MarkDone finishes ingestion of id and stores its scalar projection
func (s *QueueStore) MarkDone(ctx context.Context, id int64, fields json.RawMessage) error {
	if len(fields) == 0 {
		fields = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_records
		SET state = 'done', last_error = NULL, payload_fields = $2::jsonb,
		    last_seen_at = NOW(), updated_at = NOW()
		WHERE remote_id = $1 AND state = 'fetching'
	`, id, string(fields))
	if err != nil {
		return fmt.Errorf("mark %d done: %w", id, err)
	}
	return nil
}

// MarkError fails the fetching records in ids with reason
func (s *QueueStore) MarkError(ctx context.Context, ids []int64, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_records
		SET state = 'error', last_error = $2, updated_at = NOW()
		WHERE remote_id = ANY($1) AND state = 'fetching'
	`, ids, models.TruncateError(reason))
	if err != nil {
		return fmt.Errorf("mark records as error: %w", err)
	}
	return nil
}

// RevertToPending hands claimed records back when a run aborts midway
func (s *QueueStore) RevertToPending(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_records SET state = 'pending', updated_at = NOW()
		WHERE remote_id = ANY($1) AND state = 'fetching'
	`, ids)
	if err != nil {
		return fmt.Errorf("revert records to pending: %w", err)
	}
	return nil
}

// RetryErrors moves every errored record back to pending in both lifecycles
func (s *QueueStore) RetryErrors(ctx context.Context) (fetch int, dispatch int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	t1, err := tx.Exec(ctx, `
		UPDATE queue_records SET state = 'pending', last_error = NULL, updated_at = NOW()
		WHERE state = 'error'
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("retry fetch errors: %w", err)
	}
	t2, err := tx.Exec(ctx, `
		UPDATE queue_records SET dispatch_state = 'pending', last_error = NULL, updated_at = NOW()
		WHERE state = 'done' AND dispatch_state = 'error'
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("retry dispatch errors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return int(t1.RowsAffected()), int(t2.RowsAffected()), nil
}

// ReclaimStale hands back claims abandoned by a crashed run: records left in
// fetching go back to pending, records left in processing go to retry.
func (s *QueueStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (fetch int, dispatch int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	secs := olderThan.Seconds()
	t1, err := tx.Exec(ctx, `
		UPDATE queue_records SET state = 'pending', updated_at = NOW()
		WHERE state = 'fetching' AND updated_at < NOW() - make_interval(secs => $1)
	`, secs)
	if err != nil {
		return 0, 0, fmt.Errorf("reclaim stale fetching records: %w", err)
	}
	t2, err := tx.Exec(ctx, `
		UPDATE queue_records
		SET dispatch_state = 'retry', last_error = 'claim abandoned', updated_at = NOW()
		WHERE dispatch_state = 'processing' AND updated_at < NOW() - make_interval(secs => $1)
	`, secs)
	if err != nil {
		return 0, 0, fmt.Errorf("reclaim stale processing records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit reclaim: %w", err)
	}
	return int(t1.RowsAffected()), int(t2.RowsAffected()), nil
}

// ClaimForDispatch moves up to n ingested records whose dispatch state is in
// states to processing. Records without an email are never claimed.
func (s *QueueStore) ClaimForDispatch(ctx context.Context, n int, states []models.State) ([]models.QueueRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT remote_id, state, dispatch_state, last_error, last_seen_at, payload_fields, created_at, updated_at
		FROM queue_records
		WHERE state = 'done'
		  AND dispatch_state = ANY($1)
		  AND COALESCE(payload_fields->>'email', '') <> ''
		ORDER BY created_at ASC, remote_id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, stateStrings(states), n)
	if err != nil {
		return nil, fmt.Errorf("select dispatchable records: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.QueueRecord])
	if err != nil {
		return nil, fmt.Errorf("scan dispatchable records: %w", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]int64, len(records))
	for i := range records {
		ids[i] = records[i].RemoteID
		records[i].DispatchState = models.StateProcessing
	}
	if _, err := tx.Exec(ctx, `
		UPDATE queue_records SET dispatch_state = 'processing', updated_at = NOW()
		WHERE remote_id = ANY($1)
	`, ids); err != nil {
		return nil, fmt.Errorf("mark records as processing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit dispatch claim: %w", err)
	}
	return records, nil
}

// CountMissingContactKey counts ingested records in states that have no email
func (s *QueueStore) CountMissingContactKey(ctx context.Context, states []models.State) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_records
		WHERE state = 'done'
		  AND dispatch_state = ANY($1)
		  AND COALESCE(payload_fields->>'email', '') = ''
	`, stateStrings(states)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records without email: %w", err)
	}
	return n, nil
}

// MarkDispatched closes a processing record as done, retry or error
func (s *QueueStore) MarkDispatched(ctx context.Context, id int64, state models.State, lastErr string) error {
	if !models.CanDispatchTransition(models.StateProcessing, state) {
		return fmt.Errorf("invalid dispatch transition processing -> %s", state)
	}
	var errArg *string
	if lastErr != "" {
		e := models.TruncateError(lastErr)
		errArg = &e
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_records SET dispatch_state = $2, last_error = $3, updated_at = NOW()
		WHERE remote_id = $1 AND dispatch_state = 'processing'
	`, id, string(state), errArg)
	if err != nil {
		return fmt.Errorf("mark %d dispatched as %s: %w", id, state, err)
	}
	return nil
}

// MarkDispatchRetry flags a record for another dispatch attempt from any state
// but pending. Used when the broker dead-letters a contact event.
func (s *QueueStore) MarkDispatchRetry(ctx context.Context, id int64, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_records SET dispatch_state = 'retry', last_error = $2, updated_at = NOW()
		WHERE remote_id = $1 AND state = 'done' AND dispatch_state IN ('processing', 'done')
	`, id, models.TruncateError(reason))
	if err != nil {
		return false, fmt.Errorf("mark %d for dispatch retry: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequeueDone puts records dispatched within the last days back to pending
func (s *QueueStore) RequeueDone(ctx context.Context, days int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_records SET dispatch_state = 'pending', updated_at = NOW()
		WHERE state = 'done' AND dispatch_state = 'done'
		  AND updated_at >= NOW() - make_interval(days => $1)
	`, days)
	if err != nil {
		return 0, fmt.Errorf("requeue done records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats counts records per state in both lifecycles
func (s *QueueStore) Stats(ctx context.Context) (models.QueueStats, error) {
	stats := models.QueueStats{ByState: map[models.State]int{}, DispatchByState: map[models.State]int{}}

	if err := s.countInto(ctx, `SELECT state, COUNT(*) FROM queue_records GROUP BY state`, stats.ByState); err != nil {
		return stats, err
	}
	if err := s.countInto(ctx, `SELECT dispatch_state, COUNT(*) FROM queue_records WHERE state = 'done' GROUP BY dispatch_state`, stats.DispatchByState); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *QueueStore) countInto(ctx context.Context, query string, into map[models.State]int) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return fmt.Errorf("scan queue stats: %w", err)
		}
		into[models.State(state)] = n
	}
	return rows.Err()
}

// Truncate empties the queue
func (s *QueueStore) Truncate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE queue_records`); err != nil {
		return fmt.Errorf("truncate queue: %w", err)
	}
	return nil
}

func stateStrings(states []models.State) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}
