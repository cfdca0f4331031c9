package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/shop-sync/internal/models"
)

// CursorStore persists one pagination cursor per resource
type CursorStore struct {
	pool *pgxpool.Pool
}

// Get returns the clamped cursor, or the default when none was stored yet
func (s *CursorStore) Get(ctx context.Context, r models.Resource) (models.Cursor, error) {
	c := models.Cursor{Resource: r}
	err := s.pool.QueryRow(ctx,
		`SELECT page, page_size, updated_at FROM sync_cursors WHERE resource = $1`, string(r),
	).Scan(&c.Page, &c.PageSize, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewCursor(r), nil
	}
	if err != nil {
		return models.Cursor{}, fmt.Errorf("read cursor %s: %w", r, err)
	}
	return c.Clamp(), nil
}

// Set stores page and size after clamping them
func (s *CursorStore) Set(ctx context.Context, r models.Resource, page, size int) error {
	c := models.Cursor{Resource: r, Page: page, PageSize: size}.Clamp()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (resource, page, page_size, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (resource) DO UPDATE
		SET page = EXCLUDED.page, page_size = EXCLUDED.page_size, updated_at = NOW()
	`, string(r), c.Page, c.PageSize)
	if err != nil {
		return fmt.Errorf("write cursor %s: %w", r, err)
	}
	return nil
}

// Reset moves the cursor back to page 1 with the default size
func (s *CursorStore) Reset(ctx context.Context, r models.Resource) error {
	return s.Set(ctx, r, models.MinCursorPage, models.DefaultPageSize)
}
