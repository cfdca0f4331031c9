package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

type fakeGranter struct {
	grants     int
	refreshes  int
	grantErr   error
	refreshErr error
	lifetime   time.Duration
	refresh    string
	now        func() time.Time
}

func (f *fakeGranter) Grant(context.Context) (models.Token, error) {
	f.grants++
	if f.grantErr != nil {
		return models.Token{}, f.grantErr
	}
	return models.Token{AccessToken: "grant-token", RefreshToken: f.refresh, ExpiresAt: f.now().Add(f.lifetime)}, nil
}

func (f *fakeGranter) Refresh(_ context.Context, rt string) (models.Token, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return models.Token{}, f.refreshErr
	}
	return models.Token{AccessToken: "refreshed-token", RefreshToken: rt, ExpiresAt: f.now().Add(f.lifetime)}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(g *fakeGranter, clock *time.Time) *Manager {
	g.now = func() time.Time { return *clock }
	m := NewManager(models.IntegrationContact, g, NewMemoryTokenStore(), discardLogger())
	m.now = func() time.Time { return *clock }
	return m
}

func TestManager_ReusesTokenInsideSafetyMargin(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := &fakeGranter{lifetime: time.Hour}
	m := newTestManager(g, &clock)

	tok, err := m.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "grant-token", tok.AccessToken)

	// 61s before expiry: still valid, no network
	clock = clock.Add(time.Hour - 61*time.Second)
	_, err = m.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, g.grants)

	// inside the margin: re-grant
	clock = clock.Add(2 * time.Second)
	_, err = m.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, g.grants)
}

func TestManager_PrefersRefreshGrant(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := &fakeGranter{lifetime: time.Hour, refresh: "rt-1"}
	m := newTestManager(g, &clock)

	_, err := m.Token(context.Background(), false)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)
	tok, err := m.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", tok.AccessToken)
	assert.Equal(t, 1, g.grants)
	assert.Equal(t, 1, g.refreshes)
}

func TestManager_RefreshFailureFallsBackToGrant(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := &fakeGranter{lifetime: time.Hour, refresh: "rt-1", refreshErr: errors.New("invalid_grant")}
	m := newTestManager(g, &clock)

	_, err := m.Token(context.Background(), false)
	require.NoError(t, err)

	tok, err := m.Token(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "grant-token", tok.AccessToken)
	assert.Equal(t, 1, g.refreshes)
	assert.Equal(t, 2, g.grants)
}

func TestManager_GrantFailureIsAuthError(t *testing.T) {
	clock := time.Now()
	g := &fakeGranter{grantErr: errors.New("connection refused")}
	m := newTestManager(g, &clock)

	_, err := m.Token(context.Background(), false)
	require.Error(t, err)

	var ae *syncerr.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, models.IntegrationContact, ae.Integration)
}

func TestManager_LoadsPersistedToken(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	require.NoError(t, store.SaveToken(context.Background(), models.Token{
		Integration: models.IntegrationSource, AccessToken: "persisted", ExpiresAt: clock.Add(time.Hour),
	}))
	g := &fakeGranter{lifetime: time.Hour, now: func() time.Time { return clock }}
	m := NewManager(models.IntegrationSource, g, store, discardLogger())
	m.now = func() time.Time { return clock }

	tok, err := m.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "persisted", tok.AccessToken)
	assert.Zero(t, g.grants)
}

func TestClient_RetriesOnceAfterUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			assert.Equal(t, "Bearer grant-token", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clock := time.Now()
	g := &fakeGranter{lifetime: time.Hour}
	c := NewClient(srv.Client(), newTestManager(g, &clock))

	resp, err := c.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/contacts", nil)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 2, g.grants, "401 forces exactly one fresh grant")
}

func TestClient_SecondUnauthorizedIsSurfaced(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	clock := time.Now()
	c := NewClient(srv.Client(), newTestManager(&fakeGranter{lifetime: time.Hour}, &clock))

	resp, err := c.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 2, calls.Load(), "no third attempt")
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(&http.Client{Timeout: time.Second}, Bearer{Token: "x"})
	_, err := c.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url+"/V1/orders", nil)
	})
	require.Error(t, err)
	assert.True(t, syncerr.IsRetryable(err))
}
