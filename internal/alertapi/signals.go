package alertapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/klaxon/internal/signal"
)

func (a *API) handleIngestSignal(w http.ResponseWriter, r *http.Request) {
	var sig signal.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if sig.ObservedAt.IsZero() {
		sig.ObservedAt = time.Now().UTC()
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("klaxon.signal.source", string(sig.SourceType)),
		attribute.String("klaxon.signal.subject", sig.SubjectID),
	)

	res, err := a.svc.Ingest(r.Context(), &sig)
	if err != nil {
		a.writeError(w, r, err, "failed to ingest signal")
		return
	}

	if res.NoOp {
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "discarded"})
		return
	}

	status := "merged"
	if res.Created {
		status = "created"
	}
	span.SetAttributes(attribute.String("klaxon.alert.id", res.AlertID))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   status,
		"alert_id": res.AlertID,
		"severity": res.Severity,
	})
}
