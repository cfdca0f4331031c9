package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/shop-sync/internal/models"
)

// TokenStore keeps one token row per integration so restarts reuse it
type TokenStore struct {
	pool *pgxpool.Pool
}

func (s *TokenStore) LoadToken(ctx context.Context, integration string) (models.Token, bool, error) {
	t := models.Token{Integration: integration}
	var refresh *string
	err := s.pool.QueryRow(ctx,
		`SELECT access_token, refresh_token, expires_at FROM sync_tokens WHERE integration = $1`, integration,
	).Scan(&t.AccessToken, &refresh, &t.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Token{}, false, nil
	}
	if err != nil {
		return models.Token{}, false, fmt.Errorf("load %s token: %w", integration, err)
	}
	if refresh != nil {
		t.RefreshToken = *refresh
	}
	return t, true, nil
}

func (s *TokenStore) SaveToken(ctx context.Context, t models.Token) error {
	var refresh *string
	if t.RefreshToken != "" {
		refresh = &t.RefreshToken
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_tokens (integration, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (integration) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = COALESCE(EXCLUDED.refresh_token, sync_tokens.refresh_token),
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
	`, t.Integration, t.AccessToken, refresh, t.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("save %s token: %w", t.Integration, err)
	}
	return nil
}
