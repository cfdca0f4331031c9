package processor

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/shop-sync/internal/broker"
	"github.com/Guizzs26/shop-sync/internal/cache"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

type fakeRunner struct {
	calls []models.Command
	err   error
}

func (r *fakeRunner) Run(_ context.Context, cmd models.Command) (string, error) {
	r.calls = append(r.calls, cmd)
	return "done.", r.err
}

func newHandler(r Runner) *CommandHandler {
	return NewCommandHandler(r, cache.NewMemoryStore(), slog.New(slog.DiscardHandler))
}

func TestCommandHandler_RunsOncePerID(t *testing.T) {
	runner := &fakeRunner{}
	h := newHandler(runner)
	body := []byte(`{"id":"c-1","action":"fetch","resource":"orders","target":400}`)

	require.NoError(t, h.HandleCommand(context.Background(), body))
	require.NoError(t, h.HandleCommand(context.Background(), body))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, models.ActionFetch, runner.calls[0].Action)
	assert.Equal(t, 400, runner.calls[0].Target)
}

func TestCommandHandler_ErrorClasses(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		runErr   error
		wantDrop bool
	}{
		{"malformed json", `{`, nil, true},
		{"missing action", `{"id":"x"}`, nil, true},
		{"rejected command", `{"id":"a","action":"fetch","resource":"invoices"}`, errors.New(`unknown resource "invoices"`), true},
		{"auth failure", `{"id":"b","action":"dispatch"}`, &syncerr.AuthError{Integration: "contact", Diagnostic: "bad grant"}, true},
		{"upstream failure", `{"id":"c","action":"details"}`, &syncerr.UpstreamHTTPError{Op: "list", Status: 502}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(&fakeRunner{err: tt.runErr})
			err := h.HandleCommand(context.Background(), []byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.wantDrop, errors.Is(err, broker.ErrDrop))
		})
	}
}

func TestCommandHandler_FailedCommandIsNotRemembered(t *testing.T) {
	runner := &fakeRunner{err: &syncerr.TransportError{Op: "GET", Err: errors.New("reset")}}
	h := newHandler(runner)
	body := []byte(`{"id":"c-2","action":"items"}`)

	assert.Error(t, h.HandleCommand(context.Background(), body))
	runner.err = nil
	assert.NoError(t, h.HandleCommand(context.Background(), body))
	assert.Len(t, runner.calls, 2)
}
