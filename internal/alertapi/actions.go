package alertapi

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/notify/slack"
)

// handleSlackAction processes a button press from the incident brief. The
// signature is verified against the raw body before anything else touches the
// request; an unsigned or tampered request never reaches the service layer.
func (a *API) handleSlackAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}

	if a.signingSecret == "" {
		// no secret means no way to authenticate the caller; hard stop
		a.logger.Warn(r.Context(), "rejected slack interaction", "reason", "signing secret not configured")
		http.Error(w, `{"error":"signature verification unavailable"}`, http.StatusUnauthorized)
		return
	}
	ts := r.Header.Get("X-Slack-Request-Timestamp")
	sig := r.Header.Get("X-Slack-Signature")
	if err := slack.VerifySignature(a.signingSecret, ts, sig, body); err != nil {
		a.logger.Warn(r.Context(), "rejected slack interaction", "reason", err)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, `{"error":"invalid form body"}`, http.StatusBadRequest)
		return
	}

	in, err := slack.ParseInteraction([]byte(form.Get("payload")))
	if err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	actionID, value := in.First()
	if actionID == "" {
		// payload with no actions, e.g. a view event; acknowledge and move on
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	outcome, err := a.svc.HandleControl(r.Context(), incident.Control{
		ID:         actionID,
		IncidentID: value,
		Actor:      in.Actor(),
	})
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			http.Error(w, `{"error":"incident not found"}`, http.StatusNotFound)
			return
		}
		a.logger.Error(r.Context(), err, "control handling failed",
			"action_id", actionID, "incident_id", value)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	a.postFollowUp(r, outcome)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "text": outcome.Text})
}

// postFollowUp reports the control outcome back to the channel: a threadless
// text message with the result, and an edit of the original brief to retire
// its buttons. Both are best effort.
func (a *API) postFollowUp(r *http.Request, outcome *incident.Outcome) {
	if a.notifier == nil || !a.notifier.Enabled() || outcome == nil {
		return
	}
	ctx := r.Context()

	if outcome.Text != "" {
		if err := a.notifier.PostText(ctx, outcome.Text); err != nil {
			a.logger.Warn(ctx, "failed to post control outcome", "error", err)
		}
	}

	inc := outcome.Incident
	if inc == nil || inc.Notification == nil || outcome.StatusLine == "" {
		return
	}
	ref := inc.Notification
	if err := a.notifier.UpdateMessage(ctx, ref.Channel, ref.MessageTS, inc, outcome.StatusLine); err != nil {
		a.logger.Warn(ctx, "failed to update incident brief", "error", err,
			"incident_id", inc.ID)
	}
}
