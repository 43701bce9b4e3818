package alertapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/alert"
)

func (a *API) handleIngestWebhook(w http.ResponseWriter, r *http.Request) {
	var wh alert.Webhook
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(wh.Alerts) == 0 {
		http.Error(w, `{"error":"no alerts in payload"}`, http.StatusBadRequest)
		return
	}

	inc, err := a.svc.Ingest(r.Context(), &wh)
	if err != nil {
		a.logger.Error(r.Context(), err, "webhook ingestion failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.incident.id", inc.ID))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"incident_id": inc.ID,
	})
}
