// Package slack posts incident briefs with interactive approval controls to
// a Slack channel via the Web API, and verifies the signed callbacks Slack
// sends back when a human presses a button.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/incident"
)

const (
	defaultAPIBase = "https://slack.com/api"
	httpTimeout    = 10 * time.Second
)

// Notifier sends incident briefs and updates through the Slack Web API.
// With no token or channel configured it is disabled: every call degrades to
// a log line and succeeds, so notification never blocks the pipeline.
type Notifier struct {
	token      string
	channel    string
	apiBase    string
	httpClient *http.Client
	logger     log.Logger
}

// New creates a Notifier. Empty token or channel yields a disabled notifier.
func New(token, channel string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		token:      token,
		channel:    channel,
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Enabled reports whether the notifier has credentials to post with.
func (n *Notifier) Enabled() bool {
	return n.token != "" && n.channel != ""
}

// PostIncidentBrief posts the incident brief with approve/reject buttons and
// returns the (channel, ts) pair locating the message. Disabled notifiers
// log the rendered text and return (nil, nil).
func (n *Notifier) PostIncidentBrief(ctx context.Context, inc *incident.Incident) (*incident.NotificationRef, error) {
	if !n.Enabled() {
		n.logger.Info(ctx, "slack disabled, incident brief not posted", "incident_id", inc.ID, "text", briefText(inc))
		return nil, nil
	}

	payload := map[string]any{
		"channel": n.channel,
		"text":    briefText(inc),
		"blocks":  briefBlocks(inc, true),
	}

	resp, err := n.call(ctx, "chat.postMessage", payload)
	if err != nil {
		return nil, err
	}
	if resp.Channel == "" || resp.TS == "" {
		return nil, nil
	}
	return &incident.NotificationRef{Channel: resp.Channel, MessageTS: resp.TS}, nil
}

// PostText posts a plain text message to the configured channel.
func (n *Notifier) PostText(ctx context.Context, text string) error {
	if !n.Enabled() {
		n.logger.Info(ctx, "slack disabled, text not posted", "text", text)
		return nil
	}
	_, err := n.call(ctx, "chat.postMessage", map[string]any{
		"channel": n.channel,
		"text":    text,
	})
	return err
}

// UpdateMessage rewrites the original brief in place, replacing the
// interactive controls with a status line naming the resolution.
func (n *Notifier) UpdateMessage(ctx context.Context, channel, messageTS string, inc *incident.Incident, statusLine string) error {
	if !n.Enabled() {
		n.logger.Info(ctx, "slack disabled, message not updated", "incident_id", inc.ID, "status", statusLine)
		return nil
	}

	blocks := briefBlocks(inc, false)
	blocks = append(blocks, map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": statusLine},
		},
	})

	_, err := n.call(ctx, "chat.update", map[string]any{
		"channel": channel,
		"ts":      messageTS,
		"text":    briefText(inc),
		"blocks":  blocks,
	})
	return err
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

func (n *Notifier) call(ctx context.Context, method string, payload map[string]any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("slack: marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("slack: read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("slack: %s returned %d: %s", method, resp.StatusCode, string(data))
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("slack: decode %s response: %w", method, err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("slack: %s failed: %s", method, parsed.Error)
	}
	return &parsed, nil
}

func briefText(inc *incident.Incident) string {
	cls := classificationOf(inc)

	var b strings.Builder
	fmt.Fprintf(&b, "*Incident %s:* %s\n", inc.ID, inc.Title)
	fmt.Fprintf(&b, "- Severity: *%s* | Env: `%s`\n", inc.Severity, inc.Env)
	fmt.Fprintf(&b, "- Service: `%s` | Namespace: `%s`\n", inc.Service, inc.Namespace)
	fmt.Fprintf(&b, "- Classification: `%s` (conf=%.2f)\n", cls.Type, cls.Confidence)
	fmt.Fprintf(&b, "- %s", podLine(inc))
	if summary, ok := inc.Evidence["analysis"].(string); ok && summary != "" {
		fmt.Fprintf(&b, "\n- Analysis: %s", summary)
	}
	return b.String()
}

func briefBlocks(inc *incident.Incident, withControls bool) []map[string]any {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": fmt.Sprintf("%s Incident: %s", severityEmoji(inc.Severity), inc.AlertName),
			},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": briefText(inc)},
		},
	}

	if withControls {
		blocks = append(blocks, map[string]any{
			"type": "actions",
			"elements": []map[string]any{
				{
					"type":      "button",
					"action_id": incident.ControlApproveRestart,
					"value":     inc.ID,
					"style":     "primary",
					"text":      map[string]any{"type": "plain_text", "text": "Approve restart"},
				},
				{
					"type":      "button",
					"action_id": incident.ControlReject,
					"value":     inc.ID,
					"style":     "danger",
					"text":      map[string]any{"type": "plain_text", "text": "Reject"},
				},
			},
		})
	}

	return blocks
}

// podLine summarizes the least healthy pod from the collected evidence.
func podLine(inc *incident.Incident) string {
	ev, ok := inc.Evidence["k8s"]
	if !ok {
		return "No pod data."
	}

	// evidence may be the live struct (fresh ingest) or a decoded map
	// (loaded from the store); normalize through JSON
	raw, err := json.Marshal(ev)
	if err != nil {
		return "No pod data."
	}
	var snapshot struct {
		Enabled bool `json:"enabled"`
		Pods    []struct {
			Name     string `json:"name"`
			Phase    string `json:"phase"`
			Restarts int    `json:"restarts"`
			Ready    bool   `json:"ready"`
		} `json:"pods"`
	}
	if err := json.Unmarshal(raw, &snapshot); err != nil || !snapshot.Enabled || len(snapshot.Pods) == 0 {
		return "No pod data."
	}

	pods := snapshot.Pods
	sort.SliceStable(pods, func(i, j int) bool {
		if pods[i].Ready != pods[j].Ready {
			return !pods[i].Ready
		}
		return pods[i].Restarts > pods[j].Restarts
	})
	worst := pods[0]
	return fmt.Sprintf("Pod sample: `%s` phase=%s restarts=%d ready=%v",
		worst.Name, worst.Phase, worst.Restarts, worst.Ready)
}

func classificationOf(inc *incident.Incident) incident.Classification {
	switch v := inc.Evidence["classification"].(type) {
	case incident.Classification:
		return v
	case map[string]any:
		cls := incident.Classification{Type: "unknown"}
		if t, ok := v["type"].(string); ok {
			cls.Type = t
		}
		if c, ok := v["confidence"].(float64); ok {
			cls.Confidence = c
		}
		return cls
	default:
		return incident.Classification{Type: "unknown", Confidence: 0}
	}
}

func severityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "\U0001f534" // red circle
	case "warning":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}
