// Package alertapi exposes the signal ingress and alert query/command
// endpoints over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/engine"
	"github.com/linnemanlabs/klaxon/internal/signal"
	"github.com/linnemanlabs/klaxon/internal/store"
)

// AlertService defines the business operations alertapi needs.
type AlertService interface {
	Ingest(ctx context.Context, sig *signal.Signal) (*engine.IngestResult, error)
	Get(ctx context.Context, id string) (*alert.Alert, []*alert.Attempt, error)
	List(ctx context.Context, f store.Filter) ([]*alert.Alert, error)
	Acknowledge(ctx context.Context, id, actor string) (*alert.Alert, error)
	Resolve(ctx context.Context, id, actor string) (*alert.Alert, error)
	ManualEscalate(ctx context.Context, id, actor string) (*alert.Alert, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AlertService
}

// New creates a new API handler.
func New(logger log.Logger, svc AlertService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alert service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/signals", a.handleIngestSignal)
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Post("/alerts/{id}/ack", a.handleCommand("acknowledge", a.svc.Acknowledge))
		r.Post("/alerts/{id}/resolve", a.handleCommand("resolve", a.svc.Resolve))
		r.Post("/alerts/{id}/escalate", a.handleCommand("escalate", a.svc.ManualEscalate))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP statuses.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, what string) {
	var verr *signal.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": verr.Reason,
			"field": verr.Field,
		})
	case errors.Is(err, engine.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	case errors.Is(err, engine.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	default:
		a.logger.Error(r.Context(), err, what)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}
