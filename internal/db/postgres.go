// Package db holds the Postgres persistence of the sync: cursors, the
// per-record queue, the local mirror, tokens, options and the backfill queue.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("configure postgres pool: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres did not answer: %w", err)
	}

	return &PostgresRepository{pool: p}, nil
}

// EnsureSchema runs the idempotent bootstrap DDL
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Cursors() *CursorStore { return &CursorStore{pool: r.pool} }

func (r *PostgresRepository) Queue() *QueueStore { return &QueueStore{pool: r.pool} }

func (r *PostgresRepository) Tokens() *TokenStore { return &TokenStore{pool: r.pool} }

func (r *PostgresRepository) Options() *OptionStore { return &OptionStore{pool: r.pool} }

func (r *PostgresRepository) Backfill() *BackfillStore { return &BackfillStore{pool: r.pool} }

// Mirror returns the writer/reader of the mirrored entities
func (r *PostgresRepository) Mirror(logger *slog.Logger) *MirrorStore {
	return &MirrorStore{pool: r.pool, logger: logger.With("component", "mirror")}
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}
