package incident

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a callback references an incident id that was
// never persisted.
var ErrNotFound = errors.New("incident not found")

// ErrDuplicateExecution is returned by AppendAudit when a second "executed"
// entry for the same (incident, action type) is inserted. Stores enforce
// this so the idempotency guard holds even across concurrent approvals.
var ErrDuplicateExecution = errors.New("action already executed")

// Store is the persistence interface for incidents and their audit trail.
type Store interface {
	// GetIncident retrieves an incident by id.
	GetIncident(ctx context.Context, id string) (*Incident, bool, error)

	// UpsertIncident creates or overwrites an incident's descriptive fields.
	// Evidence merges monotonically and notification metadata already
	// persisted survives the overwrite.
	UpsertIncident(ctx context.Context, inc *Incident) error

	// SetNotificationMeta records the chat message posted for an incident
	// without touching any other field.
	SetNotificationMeta(ctx context.Context, id, channel, messageTS string) error

	// ListIncidents returns the most recently created incidents, newest first.
	ListIncidents(ctx context.Context, limit int) ([]*Incident, error)

	// AppendAudit inserts one audit entry. Inserting a second entry with
	// status "executed" for the same (incident, action type) fails with
	// ErrDuplicateExecution.
	AppendAudit(ctx context.Context, e *AuditEntry) error

	// AuditHistory returns the ordered entries for one incident, filtered
	// to one action type unless actionType is empty.
	AuditHistory(ctx context.Context, incidentID, actionType string) ([]AuditEntry, error)
}
