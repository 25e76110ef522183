package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/signal"
	"github.com/linnemanlabs/klaxon/internal/store"
)

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		Severity:  alert.Severity(q.Get("severity")),
		Type:      signal.Source(q.Get("type")),
		SubjectID: q.Get("subject_id"),
		State:     alert.State(q.Get("state")),
	}
	if f.Severity != "" && !f.Severity.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown severity", "field": "severity"})
		return
	}
	if f.Type != "" && !f.Type.Known() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown source type", "field": "type"})
		return
	}

	alerts, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("klaxon.alert.id", id))

	al, attempts, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get alert")
		return
	}
	if attempts == nil {
		attempts = []*alert.Attempt{}
	}

	span.SetAttributes(attribute.String("klaxon.alert.state", string(al.State)))

	writeJSON(w, http.StatusOK, map[string]any{
		"alert":    al,
		"attempts": attempts,
	})
}

// commandRequest is the shared body for ack, resolve and escalate.
type commandRequest struct {
	Actor string `json:"actor"`
}

func (a *API) handleCommand(name string, op func(ctx context.Context, id, actor string) (*alert.Alert, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req commandRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
				return
			}
		}

		span := trace.SpanFromContext(r.Context())
		span.SetAttributes(
			attribute.String("klaxon.alert.id", id),
			attribute.String("klaxon.alert.command", name),
		)

		al, err := op(r.Context(), id, req.Actor)
		if err != nil {
			a.writeError(w, r, err, "failed to "+name+" alert")
			return
		}

		a.logger.Info(r.Context(), "alert command applied",
			"command", name, "alert_id", id, "actor", req.Actor, "state", al.State)
		writeJSON(w, http.StatusOK, map[string]any{"alert": al})
	}
}
