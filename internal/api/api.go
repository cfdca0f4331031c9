// Package api exposes the operator actions over HTTP. Every action answers
// with its one line summary.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/service"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
	"github.com/Guizzs26/shop-sync/pkg/infra/metrics"
)

// Operator is the action surface served over HTTP
type Operator interface {
	Run(ctx context.Context, cmd models.Command) (string, error)
	Stats(ctx context.Context) (models.QueueStats, error)
	RemoteTotal(ctx context.Context, r models.Resource) (int, string, error)
	BackfillProgress(ctx context.Context) (models.Progress, string, error)
	BackfillReset(ctx context.Context) (string, error)
	Option(ctx context.Context, key string) (string, bool, error)
	SetOption(ctx context.Context, key, value string) error
}

type Handler struct {
	op     Operator
	logger *slog.Logger
}

type fetchRequest struct {
	Resource string `json:"resource" validate:"required,oneof=orders customers products categories"`
	Target   int    `json:"target" validate:"required,min=1,max=100000"`
}

type limitRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=1000"`
}

type dispatchRequest struct {
	Max    int    `json:"max" validate:"omitempty,min=1,max=500"`
	States string `json:"states" validate:"omitempty"`
}

type resetRequest struct {
	Resource string `json:"resource" validate:"required,oneof=orders customers products categories"`
}

type requeueRequest struct {
	Days int `json:"days" validate:"omitempty,min=1,max=365"`
}

type backfillRunRequest struct {
	N int `json:"n" validate:"omitempty,min=1,max=500"`
}

type optionRequest struct {
	Value string `json:"value" validate:"max=255"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// NewRouter mounts the operator routes plus /metrics and /health
func NewRouter(op Operator, healthy metrics.HealthFunc, logger *slog.Logger) chi.Router {
	h := &Handler{op: op, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	metrics.Routes(r, "shop-sync", healthy)

	r.Route("/actions", func(r chi.Router) {
		r.Post("/fetch", h.fetch)
		r.Post("/details", h.limitAction(models.ActionDetails))
		r.Post("/items", h.limitAction(models.ActionItems))
		r.Post("/dispatch", h.dispatch)
		r.Post("/reset", h.reset)
		r.Post("/retry", h.simple(models.ActionRetry))
		r.Post("/requeue", h.requeue)
	})
	r.Get("/progress", h.progress)
	r.Get("/remote/{resource}/total", h.remoteTotal)

	r.Route("/backfill", func(r chi.Router) {
		r.Post("/build", h.simple(models.ActionBackfillBuild))
		r.Post("/run", h.backfillRun)
		r.Get("/progress", h.backfillProgress)
		r.Post("/reset", h.backfillReset)
	})

	r.Get("/options/{key}", h.getOption)
	r.Put("/options/{key}", h.putOption)
	return r
}

// NewServer wraps the router with the usual timeouts
func NewServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handler) fetch(w http.ResponseWriter, r *http.Request) {
	req, err := decode[fetchRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.run(w, r, models.Command{Action: models.ActionFetch, Resource: req.Resource, Target: req.Target})
}

func (h *Handler) limitAction(a models.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode[limitRequest](r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.run(w, r, models.Command{Action: a, Limit: req.Limit})
	}
}

func (h *Handler) simple(a models.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.run(w, r, models.Command{Action: a})
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	req, err := decode[dispatchRequest](r)
	if err == nil {
		_, err = models.ParseStates(req.States)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.run(w, r, models.Command{Action: models.ActionDispatch, Limit: req.Max, States: req.States})
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	req, err := decode[resetRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.run(w, r, models.Command{Action: models.ActionReset, Resource: req.Resource})
}

func (h *Handler) requeue(w http.ResponseWriter, r *http.Request) {
	req, err := decode[requeueRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.run(w, r, models.Command{Action: models.ActionRequeue, Days: req.Days})
}

func (h *Handler) backfillRun(w http.ResponseWriter, r *http.Request) {
	req, err := decode[backfillRunRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.run(w, r, models.Command{Action: models.ActionBackfillRun, Limit: req.N})
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	summary, err := h.op.Run(r.Context(), models.Command{Action: models.ActionProgress})
	if err != nil {
		h.fail(w, summary, err)
		return
	}
	stats, err := h.op.Stats(r.Context())
	if err != nil {
		h.fail(w, summary, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":  summary,
		"progress": stats.Progress(),
		"stats":    stats,
	})
}

func (h *Handler) remoteTotal(w http.ResponseWriter, r *http.Request) {
	res, err := models.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	total, summary, err := h.op.RemoteTotal(r.Context(), res)
	if err != nil {
		h.fail(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "resource": res, "total": total})
}

func (h *Handler) backfillProgress(w http.ResponseWriter, r *http.Request) {
	p, summary, err := h.op.BackfillProgress(r.Context())
	if err != nil {
		h.fail(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "progress": p})
}

func (h *Handler) backfillReset(w http.ResponseWriter, r *http.Request) {
	summary, err := h.op.BackfillReset(r.Context())
	if err != nil {
		h.fail(w, summary, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: summary})
}

func (h *Handler) getOption(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, ok, err := h.op.Option(r.Context(), key)
	if err != nil {
		h.fail(w, "", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("option not set"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": v})
}

func (h *Handler) putOption(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	req, err := decode[optionRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.op.SetOption(r.Context(), key, req.Value); err != nil {
		if errors.Is(err, service.ErrInvalidOption) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.fail(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, cmd models.Command) {
	summary, err := h.op.Run(r.Context(), cmd)
	if err != nil {
		h.fail(w, summary, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: summary})
}

// fail maps credential failures to 502 and anything else to 500. The
// summary of a partial run is still returned.
func (h *Handler) fail(w http.ResponseWriter, summary string, err error) {
	status := http.StatusInternalServerError
	if syncerr.IsAuth(err) || syncerr.IsRetryable(err) {
		status = http.StatusBadGateway
	}
	h.logger.Error("Operator action failed", "status", status, "error", err)
	writeJSON(w, status, summaryResponse{Summary: summary, Error: err.Error()})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, summaryResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
