package alertapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/incident"
)

type mockService struct {
	incidents map[string]*incident.Incident
	audit     []incident.AuditEntry

	ingestCalls  int
	controlCalls []incident.Control
	getCalls     int

	ingestErr  error
	controlOut *incident.Outcome
	controlErr error
}

func newMockService() *mockService {
	return &mockService{incidents: make(map[string]*incident.Incident)}
}

func (m *mockService) Ingest(_ context.Context, w *alert.Webhook) (*incident.Incident, error) {
	m.ingestCalls++
	if m.ingestErr != nil {
		return nil, m.ingestErr
	}
	inc := &incident.Incident{
		ID:        "01MOCK0000000000000000000",
		AlertName: w.Alerts[0].Labels["alertname"],
	}
	m.incidents[inc.ID] = inc
	return inc, nil
}

func (m *mockService) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	m.getCalls++
	inc, ok := m.incidents[id]
	return inc, ok, nil
}

func (m *mockService) List(context.Context, int) ([]*incident.Incident, error) {
	out := make([]*incident.Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, inc)
	}
	return out, nil
}

func (m *mockService) AuditTrail(_ context.Context, incidentID, actionType string) ([]incident.AuditEntry, error) {
	var out []incident.AuditEntry
	for _, e := range m.audit {
		if e.IncidentID != incidentID {
			continue
		}
		if actionType != "" && e.ActionType != actionType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockService) HandleControl(_ context.Context, ctl incident.Control) (*incident.Outcome, error) {
	m.controlCalls = append(m.controlCalls, ctl)
	if m.controlErr != nil {
		return nil, m.controlErr
	}
	if m.controlOut != nil {
		return m.controlOut, nil
	}
	return &incident.Outcome{Text: "done"}, nil
}

type mockNotifier struct {
	texts   []string
	updates []string
}

func (m *mockNotifier) Enabled() bool { return true }

func (m *mockNotifier) PostText(_ context.Context, text string) error {
	m.texts = append(m.texts, text)
	return nil
}

func (m *mockNotifier) UpdateMessage(_ context.Context, _, messageTS string, _ *incident.Incident, _ string) error {
	m.updates = append(m.updates, messageTS)
	return nil
}

const testSigningSecret = "test-signing-secret"

func newTestRouter(t *testing.T) (chi.Router, *mockService, *mockNotifier) {
	t.Helper()
	svc := newMockService()
	notifier := &mockNotifier{}
	api := New(nil, svc, notifier, testSigningSecret, "")
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r, svc, notifier
}

func TestAPIToken_GuardsQueryEndpoints(t *testing.T) {
	t.Parallel()

	svc := newMockService()
	svc.incidents["01A"] = &incident.Incident{ID: "01A"}
	api := New(nil, svc, nil, testSigningSecret, "secret-token")
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/01A", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d without token, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents/01A", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d with token, want 200", rec.Code)
	}

	// the slack endpoint keeps its own auth scheme
	sreq := signedActionRequest(t, testSigningSecret, `{"type":"block_actions","user":{"id":"U1"}}`)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, sreq)
	if rec.Code != http.StatusOK {
		t.Errorf("slack endpoint status = %d, want 200 without bearer token", rec.Code)
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil, ...) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil, nil, "", "")
}

func TestIngestWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid webhook", `{"alerts":[{"status":"firing","labels":{"alertname":"PodCrashLoop"}}]}`, http.StatusOK},
		{"invalid JSON", `{bad`, http.StatusBadRequest},
		{"empty alerts", `{"alerts":[]}`, http.StatusBadRequest},
		{"missing alerts", `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, svc, _ := newTestRouter(t)
			req := httptest.NewRequest(http.MethodPost, "/webhooks/alertmanager", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			if tt.wantStatus == http.StatusOK {
				var resp map[string]any
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp["incident_id"] == "" {
					t.Error("response missing incident_id")
				}
				if svc.ingestCalls != 1 {
					t.Errorf("ingestCalls = %d, want 1", svc.ingestCalls)
				}
			} else if svc.ingestCalls != 0 {
				t.Errorf("ingestCalls = %d, want 0 for rejected payload", svc.ingestCalls)
			}
		})
	}
}

func TestGetIncident(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	svc.incidents["01KNOWN"] = &incident.Incident{ID: "01KNOWN", Title: "PodCrashLoop on checkout (prod)"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/01KNOWN", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var inc incident.Incident
	if err := json.Unmarshal(rec.Body.Bytes(), &inc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if inc.ID != "01KNOWN" {
		t.Errorf("id = %q, want 01KNOWN", inc.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents/missing", http.NoBody)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown id, want 404", rec.Code)
	}
}

func TestGetAudit(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	svc.incidents["01KNOWN"] = &incident.Incident{ID: "01KNOWN"}
	svc.audit = []incident.AuditEntry{
		{IncidentID: "01KNOWN", ActionType: incident.ActionRestart, Status: incident.StatusApproved, Detail: "approved by alice", CreatedAt: time.Now()},
		{IncidentID: "01KNOWN", ActionType: incident.ActionRestart, Status: incident.StatusExecuted, Detail: "alice", CreatedAt: time.Now()},
		{IncidentID: "01OTHER", ActionType: incident.ActionReject, Status: incident.StatusRejected, Detail: "bob", CreatedAt: time.Now()},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/01KNOWN/audit", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		IncidentID string                `json:"incident_id"`
		Audit      []incident.AuditEntry `json:"audit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Audit) != 2 {
		t.Errorf("audit entries = %d, want 2", len(resp.Audit))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents/missing/audit", http.NoBody)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown incident, want 404", rec.Code)
	}
}

func TestListIncidents(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	svc.incidents["01A"] = &incident.Incident{ID: "01A"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "01A") {
		t.Errorf("response should list incidents: %s", rec.Body.String())
	}
}

func signedActionRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	form := url.Values{"payload": {payload}}
	body := form.Encode()
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/integrations/slack/actions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sig)
	return req
}

func actionPayload(actionID, incidentID string) string {
	return fmt.Sprintf(`{
		"type": "block_actions",
		"user": {"id": "U1", "username": "alice"},
		"actions": [{"action_id": %q, "value": %q}]
	}`, actionID, incidentID)
}

func TestSlackAction_Approve(t *testing.T) {
	t.Parallel()

	r, svc, notifier := newTestRouter(t)
	inc := &incident.Incident{
		ID:           "01KNOWN",
		Notification: &incident.NotificationRef{Channel: "C1", MessageTS: "1.2"},
	}
	svc.incidents["01KNOWN"] = inc
	svc.controlOut = &incident.Outcome{
		Text:       "Restarted checkout. Verification PASS",
		StatusLine: "Approved by alice",
		Incident:   inc,
	}

	req := signedActionRequest(t, testSigningSecret, actionPayload(incident.ControlApproveRestart, "01KNOWN"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	if len(svc.controlCalls) != 1 {
		t.Fatalf("controlCalls = %d, want 1", len(svc.controlCalls))
	}
	ctl := svc.controlCalls[0]
	if ctl.ID != incident.ControlApproveRestart || ctl.IncidentID != "01KNOWN" || ctl.Actor != "alice" {
		t.Errorf("control = %+v", ctl)
	}

	if len(notifier.texts) != 1 || !strings.Contains(notifier.texts[0], "Verification PASS") {
		t.Errorf("follow-up texts = %v", notifier.texts)
	}
	if len(notifier.updates) != 1 || notifier.updates[0] != "1.2" {
		t.Errorf("message updates = %v, want original ts", notifier.updates)
	}
}

func TestSlackAction_BadSignature_NeverReachesService(t *testing.T) {
	t.Parallel()

	r, svc, notifier := newTestRouter(t)

	req := signedActionRequest(t, "wrong-secret", actionPayload(incident.ControlApproveRestart, "01KNOWN"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(svc.controlCalls) != 0 || svc.getCalls != 0 {
		t.Error("rejected request must not touch the service layer")
	}
	if len(notifier.texts) != 0 {
		t.Error("rejected request must not post follow-ups")
	}
}

func TestSlackAction_NoSigningSecret_Rejected(t *testing.T) {
	t.Parallel()

	svc := newMockService()
	notifier := &mockNotifier{}
	api := New(nil, svc, notifier, "", "")
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	form := url.Values{"payload": {actionPayload(incident.ControlApproveRestart, "01KNOWN")}}
	req := httptest.NewRequest(http.MethodPost, "/integrations/slack/actions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 when no signing secret is configured", rec.Code)
	}
	if len(svc.controlCalls) != 0 || svc.getCalls != 0 {
		t.Error("unauthenticated request must not touch the service layer")
	}
	if len(notifier.texts) != 0 {
		t.Error("unauthenticated request must not post follow-ups")
	}
}

func TestSlackAction_StaleTimestamp(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)

	req := signedActionRequest(t, testSigningSecret, actionPayload(incident.ControlReject, "01KNOWN"))
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(svc.controlCalls) != 0 {
		t.Error("stale request must not touch the service layer")
	}
}

func TestSlackAction_UnknownIncident(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	svc.controlErr = fmt.Errorf("%w: 01MISSING", incident.ErrNotFound)

	req := signedActionRequest(t, testSigningSecret, actionPayload(incident.ControlApproveRestart, "01MISSING"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSlackAction_EmptyActions(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)

	req := signedActionRequest(t, testSigningSecret, `{"type":"block_actions","user":{"id":"U1"}}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(svc.controlCalls) != 0 {
		t.Error("payload without actions should be acknowledged without a control call")
	}
}

func TestSlackAction_MalformedPayload(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	req := signedActionRequest(t, testSigningSecret, `not json`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
