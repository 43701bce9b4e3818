// Package alertapi exposes the HTTP surface: the Alertmanager webhook, the
// Slack interaction endpoint, and read-only incident queries.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/incident"
)

// IncidentService defines the business operations alertapi needs.
type IncidentService interface {
	Ingest(ctx context.Context, w *alert.Webhook) (*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.Incident, bool, error)
	List(ctx context.Context, limit int) ([]*incident.Incident, error)
	AuditTrail(ctx context.Context, incidentID, actionType string) ([]incident.AuditEntry, error)
	HandleControl(ctx context.Context, ctl incident.Control) (*incident.Outcome, error)
}

// Notifier is the follow-up messaging surface used after a control resolves.
type Notifier interface {
	Enabled() bool
	PostText(ctx context.Context, text string) error
	UpdateMessage(ctx context.Context, channel, messageTS string, inc *incident.Incident, statusLine string) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger        log.Logger
	svc           IncidentService
	notifier      Notifier
	signingSecret string
	apiToken      string
}

// New creates a new API handler. notifier may be nil when Slack follow-up
// messaging is not configured. The interaction endpoint rejects every
// request with 401 until signingSecret is set; apiToken empty leaves the
// query endpoints open (local development only).
func New(logger log.Logger, svc IncidentService, notifier Notifier, signingSecret, apiToken string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	return &API{
		logger:        logger,
		svc:           svc,
		notifier:      notifier,
		signingSecret: signingSecret,
		apiToken:      apiToken,
	}
}

// RegisterRoutes attaches API endpoints to the router. The Slack endpoint
// authenticates by request signature, the webhook and query endpoints by
// bearer token when one is configured.
func (a *API) RegisterRoutes(r chi.Router) {
	r.With(authmw.BearerTokenOptional(a.apiToken)).Post("/webhooks/alertmanager", a.handleIngestWebhook)
	r.Post("/integrations/slack/actions", a.handleSlackAction)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.BearerTokenOptional(a.apiToken))
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Get("/incidents/{id}/audit", a.handleGetAudit)
	})
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.incident.id", id))

	inc, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.svc.List(r.Context(), 50)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func (a *API) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok, err := a.svc.Get(r.Context(), id); err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	} else if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	actionType := r.URL.Query().Get("action_type")
	entries, err := a.svc.AuditTrail(r.Context(), id, actionType)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read audit trail", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []incident.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"incident_id": id, "audit": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
