package incident

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/k8s"
	"github.com/linnemanlabs/warden/internal/policy"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/incident")

// Collector gathers cluster evidence for a (namespace, service) pair. It
// never fails: an unreachable backend yields Evidence{Enabled: false}.
type Collector interface {
	Enabled() bool
	CollectBasic(ctx context.Context, namespace, service string) k8s.Evidence
}

// Executor applies remediation against the cluster and verifies the result.
type Executor interface {
	RolloutRestart(ctx context.Context, namespace, deployment string) (string, error)
	VerifyRollout(ctx context.Context, namespace, deployment string, timeout, interval time.Duration) k8s.VerifyResult
}

// Notifier posts incident briefs and result updates to the humans on call.
// Implementations degrade to a local no-op when unconfigured and report
// Enabled accordingly; they never panic past their boundary.
type Notifier interface {
	Enabled() bool
	PostIncidentBrief(ctx context.Context, inc *Incident) (*NotificationRef, error)
	PostText(ctx context.Context, text string) error
	UpdateMessage(ctx context.Context, channel, messageTS string, inc *Incident, statusLine string) error
}

// Annotator produces an optional short human-readable summary of a fresh
// incident. Nil or disabled annotators are skipped.
type Annotator interface {
	Enabled() bool
	Summarize(ctx context.Context, inc *Incident) (string, error)
}

// Options carries the tunables the service needs beyond its collaborators.
type Options struct {
	Env                  string
	Source               string
	VerifyTimeout        time.Duration
	VerifyInterval       time.Duration
	ReapproveAfterReject bool
}

// Service is the business boundary for the incident lifecycle: ingestion on
// one side, approval/execution on the other, both converging on the Store.
type Service struct {
	store     Store
	collector Collector
	executor  Executor
	notifier  Notifier
	annotator Annotator
	policy    *policy.Policy
	metrics   *Metrics
	logger    log.Logger
	opts      Options

	// locks serializes approval handling per incident so the idempotency
	// check and the executed-entry insert cannot interleave across
	// concurrent callbacks for the same incident.
	locks sync.Map // incident id -> *sync.Mutex
}

// NewService creates the incident service. notifier and policy are required;
// annotator and metrics may be nil.
func NewService(store Store, collector Collector, executor Executor, notifier Notifier, annotator Annotator, pol *policy.Policy, metrics *Metrics, logger log.Logger, opts Options) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Source == "" {
		opts.Source = "alertmanager"
	}
	if opts.Env == "" {
		opts.Env = "dev"
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 30 * time.Second
	}
	if opts.VerifyInterval <= 0 {
		opts.VerifyInterval = 2 * time.Second
	}
	return &Service{
		store:     store,
		collector: collector,
		executor:  executor,
		notifier:  notifier,
		annotator: annotator,
		policy:    pol,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
	}
}

// Ingest turns a webhook group into a persisted, classified, enriched and
// notified Incident. The caller guarantees at least one alert is present.
// Enrichment and notification failures degrade; a store failure aborts.
func (s *Service) Ingest(ctx context.Context, w *alert.Webhook) (*Incident, error) {
	ctx, span := tracer.Start(ctx, "incident.Ingest")
	defer span.End()

	ev := w.Normalize()

	inc := &Incident{
		ID:        ulid.Make().String(),
		Source:    s.opts.Source,
		Env:       s.opts.Env,
		Severity:  ev.Label("severity", "warning"),
		Service:   ev.Label("service", "unknown-service", "app"),
		Namespace: ev.Label("namespace", "default"),
		AlertName: ev.Label("alertname", "unknown-alert"),
		StartedAt: ev.StartsAt,
		Raw: map[string]any{
			"labels":      ev.Labels,
			"annotations": ev.Annotations,
			"status":      ev.Status,
		},
		Evidence:  make(map[string]any),
		CreatedAt: time.Now().UTC(),
	}
	if inc.StartedAt.IsZero() {
		inc.StartedAt = inc.CreatedAt
	}
	inc.Title = inc.AlertName + " on " + inc.Service + " (" + inc.Namespace + ")"

	span.SetAttributes(
		attribute.String("warden.incident.id", inc.ID),
		attribute.String("warden.incident.alertname", inc.AlertName),
		attribute.String("warden.incident.namespace", inc.Namespace),
	)

	L := s.logger.With("incident_id", inc.ID, "alert", inc.AlertName, "service", inc.Service, "namespace", inc.Namespace)

	cls := Classify(inc.AlertName)
	inc.Evidence["classification"] = cls

	collectStart := time.Now()
	inc.Evidence["k8s"] = s.collector.CollectBasic(ctx, inc.Namespace, inc.Service)
	s.metrics.observeCollect(time.Since(collectStart).Seconds())

	if s.annotator != nil && s.annotator.Enabled() {
		if summary, err := s.annotator.Summarize(ctx, inc); err != nil {
			L.Warn(ctx, "annotation degraded", "error", err)
		} else if summary != "" {
			inc.Evidence["analysis"] = summary
		}
	}

	// persist before notifying: the approval flow must be able to look the
	// incident back up by id
	if err := s.store.UpsertIncident(ctx, inc); err != nil {
		s.metrics.incIngest("store_error")
		return nil, err
	}

	ref, err := s.notifier.PostIncidentBrief(ctx, inc)
	switch {
	case err != nil:
		s.metrics.incNotify("error")
		L.Warn(ctx, "notification degraded", "error", err)
	case ref != nil:
		s.metrics.incNotify("posted")
		if err := s.store.SetNotificationMeta(ctx, inc.ID, ref.Channel, ref.MessageTS); err != nil {
			L.Error(ctx, err, "failed to record notification metadata")
		} else {
			inc.Notification = ref
		}
	default:
		s.metrics.incNotify("disabled")
	}

	s.metrics.incIngest("ok")
	s.metrics.incIncident(cls.Type, inc.Severity)

	L.Info(ctx, "incident created",
		"title", inc.Title,
		"severity", inc.Severity,
		"category", cls.Type,
		"confidence", cls.Confidence,
		"notified", inc.Notification != nil,
	)

	return inc, nil
}

// Get retrieves an incident by id.
func (s *Service) Get(ctx context.Context, id string) (*Incident, bool, error) {
	return s.store.GetIncident(ctx, id)
}

// List returns the most recent incidents, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*Incident, error) {
	return s.store.ListIncidents(ctx, limit)
}

// AuditTrail returns the ordered audit entries for one incident and action.
func (s *Service) AuditTrail(ctx context.Context, incidentID, actionType string) ([]AuditEntry, error) {
	return s.store.AuditHistory(ctx, incidentID, actionType)
}

func (s *Service) lockFor(incidentID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(incidentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
