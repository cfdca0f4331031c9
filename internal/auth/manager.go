// Package auth owns the bearer credential lifecycle of both remote APIs:
// cache, refresh, re-grant, and the single retry after a 401.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

// SafetyMargin is subtracted from expires_at before a cached token counts as stale
const SafetyMargin = 60 * time.Second

// Granter performs the network grants of one integration
type Granter interface {
	// Grant runs the primary grant (password or client credentials)
	Grant(ctx context.Context) (models.Token, error)
	// Refresh exchanges a refresh token for a new access token
	Refresh(ctx context.Context, refreshToken string) (models.Token, error)
}

// TokenStore persists tokens across restarts, one per integration
type TokenStore interface {
	LoadToken(ctx context.Context, integration string) (models.Token, bool, error)
	SaveToken(ctx context.Context, t models.Token) error
}

// Manager caches one integration's token and renews it on demand
type Manager struct {
	integration string
	granter     Granter
	store       TokenStore
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	cached models.Token
	loaded bool
}

func NewManager(integration string, g Granter, store TokenStore, logger *slog.Logger) *Manager {
	return &Manager{
		integration: integration,
		granter:     g,
		store:       store,
		logger:      logger.With("integration", integration),
		now:         time.Now,
	}
}

// Token returns a usable token. Without force a cached token that is still
// valid at now+SafetyMargin is returned with no network request.
func (m *Manager) Token(ctx context.Context, force bool) (models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force {
		if !m.loaded && m.store != nil {
			t, ok, err := m.store.LoadToken(ctx, m.integration)
			if err != nil {
				m.logger.Warn("Token cache unavailable, requesting a fresh grant", "error", err)
			} else if ok {
				m.cached = t
			}
			m.loaded = true
		}
		if m.cached.ValidAt(m.now(), SafetyMargin) {
			return m.cached, nil
		}
	}

	if rt := m.cached.RefreshToken; rt != "" {
		t, err := m.granter.Refresh(ctx, rt)
		if err == nil {
			metrics.TokenGrants.WithLabelValues(m.integration, "refresh_token", "ok").Inc()
			return m.remember(ctx, t), nil
		}
		metrics.TokenGrants.WithLabelValues(m.integration, "refresh_token", "error").Inc()
		m.logger.Warn("Refresh grant failed, falling back to primary grant", "error", err)
	}

	t, err := m.granter.Grant(ctx)
	if err != nil {
		metrics.TokenGrants.WithLabelValues(m.integration, "primary", "error").Inc()
		m.cached = models.Token{}
		return models.Token{}, m.asAuthError(err)
	}
	metrics.TokenGrants.WithLabelValues(m.integration, "primary", "ok").Inc()
	return m.remember(ctx, t), nil
}

func (m *Manager) remember(ctx context.Context, t models.Token) models.Token {
	t.Integration = m.integration
	m.cached = t
	m.loaded = true
	if m.store != nil {
		if err := m.store.SaveToken(ctx, t); err != nil {
			m.logger.Warn("Failed to persist token, keeping it in memory only", "error", err)
		}
	}
	return t
}

func (m *Manager) asAuthError(err error) error {
	var ae *syncerr.AuthError
	if errors.As(err, &ae) {
		return err
	}
	return &syncerr.AuthError{Integration: m.integration, Diagnostic: err.Error()}
}

// Authorize sets the bearer header on req
func (m *Manager) Authorize(ctx context.Context, req *http.Request, force bool) error {
	t, err := m.Token(ctx, force)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.AccessToken)
	return nil
}

// Invalidate drops the cached access token but keeps the refresh token
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached.AccessToken = ""
	m.cached.ExpiresAt = time.Time{}
}

func (m *Manager) String() string {
	return fmt.Sprintf("token manager (%s)", m.integration)
}
