package incident

import "time"

// Audit statuses. An entry records one step in an action's history and is
// never mutated after insert.
const (
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExecuted = "executed"
	StatusFailed   = "failed"
	StatusPass     = "pass"
	StatusFail     = "fail"
)

// Action types recorded in the audit log.
const (
	ActionRestart = "rollout_restart"
	ActionReject  = "reject"
	ActionVerify  = "verify"
)

// Interactive control ids carried on notification buttons.
const (
	ControlApproveRestart = "approve_restart"
	ControlReject         = "reject"
)

// NotificationRef locates the chat message posted for an incident, so later
// updates can land on the same message.
type NotificationRef struct {
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
}

// Classification is the rule-based failure category for an incident.
type Classification struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Incident is one tracked occurrence of an alerted problem. Descriptive
// fields are immutable after creation; Evidence only ever grows.
type Incident struct {
	ID           string           `json:"incident_id"`
	Source       string           `json:"source"`
	Env          string           `json:"env"`
	Title        string           `json:"title"`
	Severity     string           `json:"severity"`
	Service      string           `json:"service"`
	Namespace    string           `json:"namespace"`
	AlertName    string           `json:"alertname"`
	StartedAt    time.Time        `json:"started_at"`
	Raw          map[string]any   `json:"raw"`
	Evidence     map[string]any   `json:"evidence"`
	Notification *NotificationRef `json:"notification,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// AuditEntry is an append-only fact about one step of an action's history.
// The ordered sequence per (incident, action type) is the authoritative
// record used for the idempotency guard.
type AuditEntry struct {
	ID         int64     `json:"id"`
	IncidentID string    `json:"incident_id"`
	ActionType string    `json:"action_type"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// Outcome is the result of handling an approval callback. Text is the
// user-facing message; StatusLine, when set, replaces the interactive
// controls on the original notification.
type Outcome struct {
	Text       string
	StatusLine string
	Incident   *Incident
}

// Control is one parsed interactive control activation: which button, for
// which incident, by whom.
type Control struct {
	ID         string
	IncidentID string
	Actor      string
}
