// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/incident"
)

// Store holds incidents and audit entries in memory. Suitable for dev and
// testing; it mirrors the Postgres store's semantics, including the
// at-most-one-executed guard.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident
	audit     []incident.AuditEntry
	nextAudit int64
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		nextAudit: 1,
	}
}

// GetIncident retrieves an incident by id. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return copyIncident(inc), true, nil
}

// UpsertIncident creates or overwrites an incident. Evidence merges key by
// key and previously recorded notification metadata survives the overwrite.
func (s *Store) UpsertIncident(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyIncident(inc)
	if prev, ok := s.incidents[inc.ID]; ok {
		if cp.Notification == nil {
			cp.Notification = prev.Notification
		}
		for k, v := range prev.Evidence {
			if _, exists := cp.Evidence[k]; !exists {
				cp.Evidence[k] = v
			}
		}
	}
	s.incidents[inc.ID] = cp
	return nil
}

// SetNotificationMeta records the posted message for an incident.
func (s *Store) SetNotificationMeta(_ context.Context, id, channel, messageTS string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return incident.ErrNotFound
	}
	inc.Notification = &incident.NotificationRef{Channel: channel, MessageTS: messageTS}
	return nil
}

// ListIncidents returns up to limit incidents, newest first.
func (s *Store) ListIncidents(_ context.Context, limit int) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*incident.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, copyIncident(inc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendAudit inserts one audit entry, enforcing at most one executed entry
// per (incident, action type).
func (s *Store) AppendAudit(_ context.Context, e *incident.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Status == incident.StatusExecuted {
		for _, prev := range s.audit {
			if prev.IncidentID == e.IncidentID && prev.ActionType == e.ActionType && prev.Status == incident.StatusExecuted {
				return incident.ErrDuplicateExecution
			}
		}
	}

	cp := *e
	cp.ID = s.nextAudit
	s.nextAudit++
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, cp)
	return nil
}

// AuditHistory returns the ordered entries for one incident, filtered to one
// action type unless actionType is empty.
func (s *Store) AuditHistory(_ context.Context, incidentID, actionType string) ([]incident.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []incident.AuditEntry
	for _, e := range s.audit {
		if e.IncidentID == incidentID && (actionType == "" || e.ActionType == actionType) {
			out = append(out, e)
		}
	}
	return out, nil
}

func copyIncident(inc *incident.Incident) *incident.Incident {
	cp := *inc
	cp.Raw = copyMap(inc.Raw)
	cp.Evidence = copyMap(inc.Evidence)
	if inc.Notification != nil {
		ref := *inc.Notification
		cp.Notification = &ref
	}
	return &cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
