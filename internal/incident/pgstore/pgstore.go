// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// pg unique_violation
const pgUniqueViolation = "23505"

// Store persists incidents and their audit trail in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store on the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `incident_id, source, env, title, severity, service, namespace, alertname,
	started_at, raw, evidence, notif_channel, notif_ts, created_at`

// GetIncident retrieves an incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetIncident", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE incident_id = $1`
	inc, err := scanIncidentRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// UpsertIncident creates or overwrites an incident. Descriptive fields are
// replaced, evidence merges key by key, and notification metadata columns
// are left untouched so a re-processed alert cannot drop them.
func (s *Store) UpsertIncident(ctx context.Context, inc *incident.Incident) error {
	ctx, span := tracer.Start(ctx, "pgstore.UpsertIncident", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	rawJSON, err := json.Marshal(inc.Raw)
	if err != nil {
		return fmt.Errorf("marshal raw: %w", err)
	}
	evidenceJSON, err := json.Marshal(inc.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	var startedAt *time.Time
	if !inc.StartedAt.IsZero() {
		startedAt = &inc.StartedAt
	}
	createdAt := inc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `INSERT INTO incidents (
		incident_id, source, env, title, severity, service, namespace, alertname,
		started_at, raw, evidence, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (incident_id) DO UPDATE SET
		source     = EXCLUDED.source,
		env        = EXCLUDED.env,
		title      = EXCLUDED.title,
		severity   = EXCLUDED.severity,
		service    = EXCLUDED.service,
		namespace  = EXCLUDED.namespace,
		alertname  = EXCLUDED.alertname,
		started_at = EXCLUDED.started_at,
		raw        = EXCLUDED.raw,
		evidence   = incidents.evidence || EXCLUDED.evidence`

	_, err = s.pool.Exec(ctx, query,
		inc.ID, inc.Source, inc.Env, inc.Title, inc.Severity, inc.Service, inc.Namespace, inc.AlertName,
		startedAt, rawJSON, evidenceJSON, createdAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

// SetNotificationMeta records the posted chat message for an incident.
func (s *Store) SetNotificationMeta(ctx context.Context, id, channel, messageTS string) error {
	ctx, span := tracer.Start(ctx, "pgstore.SetNotificationMeta", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET notif_channel = $2, notif_ts = $3 WHERE incident_id = $1`,
		id, channel, messageTS,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("set notification meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", incident.ErrNotFound, id)
	}
	return nil
}

// ListIncidents returns the most recently created incidents, newest first.
func (s *Store) ListIncidents(ctx context.Context, limit int) ([]*incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListIncidents", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// AppendAudit inserts one audit entry. The partial unique index on executed
// entries turns a duplicate execution into incident.ErrDuplicateExecution,
// closing the check-then-act window at the store.
func (s *Store) AppendAudit(ctx context.Context, e *incident.AuditEntry) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendAudit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO action_audit (incident_id, action_type, status, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		e.IncidentID, e.ActionType, e.Status, e.Detail, createdAt,
	).Scan(&e.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return incident.ErrDuplicateExecution
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit entry: %w", err)
	}
	e.CreatedAt = createdAt
	return nil
}

// AuditHistory returns the ordered entries for one incident, filtered to one
// action type unless actionType is empty.
func (s *Store) AuditHistory(ctx context.Context, incidentID, actionType string) ([]incident.AuditEntry, error) {
	ctx, span := tracer.Start(ctx, "pgstore.AuditHistory", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, incident_id, action_type, status, detail, created_at
		 FROM action_audit
		 WHERE incident_id = $1 AND ($2 = '' OR action_type = $2)
		 ORDER BY id`,
		incidentID, actionType,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var out []incident.AuditEntry
	for rows.Next() {
		var e incident.AuditEntry
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.ActionType, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// scanIncidentRow scans a single row into an Incident. Returns (nil, nil)
// when no row is found.
func scanIncidentRow(row pgx.Row) (*incident.Incident, error) {
	var (
		inc          incident.Incident
		startedAt    *time.Time
		rawJSON      []byte
		evidenceJSON []byte
		notifChannel *string
		notifTS      *string
	)

	err := row.Scan(
		&inc.ID, &inc.Source, &inc.Env, &inc.Title, &inc.Severity, &inc.Service, &inc.Namespace, &inc.AlertName,
		&startedAt, &rawJSON, &evidenceJSON, &notifChannel, &notifTS, &inc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	if startedAt != nil {
		inc.StartedAt = *startedAt
	}
	if err := json.Unmarshal(rawJSON, &inc.Raw); err != nil {
		return nil, fmt.Errorf("unmarshal raw: %w", err)
	}
	if err := json.Unmarshal(evidenceJSON, &inc.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	if notifChannel != nil && notifTS != nil {
		inc.Notification = &incident.NotificationRef{Channel: *notifChannel, MessageTS: *notifTS}
	}
	return &inc, nil
}
