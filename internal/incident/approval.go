package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// HandleControl resolves an interactive control activation to its incident
// and runs the requested branch. Authentication of the callback happens
// before this point; nothing here is reachable with an unverified payload.
//
// Per (incident, rollout_restart) the audit history progresses
// NONE -> approved -> executed -> verify pass|fail, with failed absorbing
// from approved, and rejected terminal directly from NONE under its own
// action type.
func (s *Service) HandleControl(ctx context.Context, ctl Control) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "incident.HandleControl")
	defer span.End()
	span.SetAttributes(
		attribute.String("warden.control.id", ctl.ID),
		attribute.String("warden.incident.id", ctl.IncidentID),
	)

	if ctl.IncidentID == "" {
		// no correlation token: answer without touching the store
		return &Outcome{Text: "missing incident id"}, nil
	}

	inc, ok, err := s.store.GetIncident(ctx, ctl.IncidentID)
	if err != nil {
		return nil, fmt.Errorf("lookup incident %s: %w", ctl.IncidentID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ctl.IncidentID)
	}

	L := s.logger.With("incident_id", inc.ID, "control", ctl.ID, "actor", ctl.Actor)

	switch ctl.ID {
	case ControlReject:
		return s.reject(ctx, inc, ctl.Actor)
	case ControlApproveRestart:
		out, err := s.approveRestart(ctx, inc, ctl.Actor)
		if err != nil {
			L.Error(ctx, err, "approval handling failed")
		}
		return out, err
	default:
		L.Warn(ctx, "unknown control id")
		return &Outcome{Text: "unknown action", Incident: inc}, nil
	}
}

func (s *Service) reject(ctx context.Context, inc *Incident, actor string) (*Outcome, error) {
	if err := s.store.AppendAudit(ctx, &AuditEntry{
		IncidentID: inc.ID,
		ActionType: ActionReject,
		Status:     StatusRejected,
		Detail:     actor,
	}); err != nil {
		return nil, fmt.Errorf("audit reject: %w", err)
	}

	s.metrics.incAction(ActionReject, StatusRejected)
	s.logger.Info(ctx, "remediation rejected", "incident_id", inc.ID, "actor", actor)

	status := "Rejected by " + actor
	return &Outcome{
		Text:       fmt.Sprintf("Remediation for incident %s rejected by %s.", inc.ID, actor),
		StatusLine: status,
		Incident:   inc,
	}, nil
}

func (s *Service) approveRestart(ctx context.Context, inc *Incident, actor string) (*Outcome, error) {
	// serialize per incident so two near-simultaneous approvals cannot both
	// pass the idempotency check
	mu := s.lockFor(inc.ID)
	mu.Lock()
	defer mu.Unlock()

	history, err := s.store.AuditHistory(ctx, inc.ID, ActionRestart)
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	for _, e := range history {
		if e.Status == StatusExecuted {
			s.metrics.incAction(ActionRestart, "duplicate")
			return &Outcome{
				Text:       fmt.Sprintf("Restart for incident %s already executed; nothing to do.", inc.ID),
				StatusLine: "Already executed",
				Incident:   inc,
			}, nil
		}
	}

	if !s.opts.ReapproveAfterReject {
		rejects, err := s.store.AuditHistory(ctx, inc.ID, ActionReject)
		if err != nil {
			return nil, fmt.Errorf("audit history: %w", err)
		}
		if len(rejects) > 0 {
			s.metrics.incAction(ActionRestart, "blocked")
			return &Outcome{
				Text:       fmt.Sprintf("Restart for incident %s was previously rejected; re-approval is disabled.", inc.ID),
				StatusLine: "Rejected",
				Incident:   inc,
			}, nil
		}
	}

	// the approval record must exist before execution is attempted, so the
	// trail shows who authorized what even if the attempt fails
	if err := s.store.AppendAudit(ctx, &AuditEntry{
		IncidentID: inc.ID,
		ActionType: ActionRestart,
		Status:     StatusApproved,
		Detail:     fmt.Sprintf("approved by %s for %s/%s", actor, inc.Namespace, inc.Service),
	}); err != nil {
		return nil, fmt.Errorf("audit approval: %w", err)
	}
	s.metrics.incAction(ActionRestart, StatusApproved)

	if err := s.policy.AssertAllowed(ActionRestart, inc.Namespace); err != nil {
		s.auditFailure(ctx, inc.ID, err)
		s.metrics.incAction(ActionRestart, StatusFailed)
		return &Outcome{
			Text:       fmt.Sprintf("Restart for incident %s not executed: %v", inc.ID, err),
			StatusLine: fmt.Sprintf("Approval by %s failed: not allowed", actor),
			Incident:   inc,
		}, nil
	}

	execStart := time.Now()
	summary, err := s.executor.RolloutRestart(ctx, inc.Namespace, inc.Service)
	s.metrics.observeExec(time.Since(execStart).Seconds())
	if err != nil {
		s.auditFailure(ctx, inc.ID, err)
		s.metrics.incAction(ActionRestart, StatusFailed)
		return &Outcome{
			Text:       fmt.Sprintf("Restart for incident %s failed: %v", inc.ID, err),
			StatusLine: fmt.Sprintf("Approved by %s; execution failed", actor),
			Incident:   inc,
		}, nil
	}

	if err := s.store.AppendAudit(ctx, &AuditEntry{
		IncidentID: inc.ID,
		ActionType: ActionRestart,
		Status:     StatusExecuted,
		Detail:     summary,
	}); err != nil {
		// the store closed the race for us: someone else's executed entry
		// landed first
		if errors.Is(err, ErrDuplicateExecution) {
			s.metrics.incAction(ActionRestart, "duplicate")
			return &Outcome{
				Text:       fmt.Sprintf("Restart for incident %s already executed; nothing to do.", inc.ID),
				StatusLine: "Already executed",
				Incident:   inc,
			}, nil
		}
		s.logger.Error(ctx, err, "failed to audit execution", "incident_id", inc.ID)
	}
	s.metrics.incAction(ActionRestart, StatusExecuted)

	verifyStart := time.Now()
	verify := s.executor.VerifyRollout(ctx, inc.Namespace, inc.Service, s.opts.VerifyTimeout, s.opts.VerifyInterval)
	s.metrics.observeVerify(time.Since(verifyStart).Seconds())

	verifyStatus := StatusFail
	if verify.OK {
		verifyStatus = StatusPass
	}
	s.metrics.incVerify(verifyStatus)

	verifyDetail := fmt.Sprintf("desired=%d updated=%d available=%d ready=%d pods=%d max_restarts=%d",
		verify.Desired, verify.Updated, verify.Available, verify.Ready, verify.PodCount, verify.MaxRestarts)
	if err := s.store.AppendAudit(ctx, &AuditEntry{
		IncidentID: inc.ID,
		ActionType: ActionVerify,
		Status:     verifyStatus,
		Detail:     verifyDetail,
	}); err != nil {
		s.logger.Error(ctx, err, "failed to audit verification", "incident_id", inc.ID)
	}

	verdict := "Verification FAIL"
	if verify.OK {
		verdict = "Verification PASS"
	}

	s.logger.Info(ctx, "remediation executed",
		"incident_id", inc.ID,
		"actor", actor,
		"verify", verifyStatus,
		"ready", verify.Ready,
		"desired", verify.Desired,
	)

	return &Outcome{
		Text:       fmt.Sprintf("%s\n%s (%s)", summary, verdict, verifyDetail),
		StatusLine: fmt.Sprintf("Approved by %s; executed. %s", actor, verdict),
		Incident:   inc,
	}, nil
}

func (s *Service) auditFailure(ctx context.Context, incidentID string, cause error) {
	if err := s.store.AppendAudit(ctx, &AuditEntry{
		IncidentID: incidentID,
		ActionType: ActionRestart,
		Status:     StatusFailed,
		Detail:     cause.Error(),
	}); err != nil {
		s.logger.Error(ctx, err, "failed to audit action failure", "incident_id", incidentID)
	}
}
