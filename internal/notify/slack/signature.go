package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// maxSignatureAge is the widest clock skew accepted between the timestamp
// Slack signed and our own clock. Requests outside the window are replays.
const maxSignatureAge = 5 * time.Minute

var (
	// ErrBadSignature is returned when the request signature does not match.
	ErrBadSignature = errors.New("slack: signature mismatch")

	// ErrStaleTimestamp is returned when the signed timestamp is outside the
	// accepted replay window.
	ErrStaleTimestamp = errors.New("slack: stale request timestamp")
)

// VerifySignature checks a Slack request signature against the signing
// secret. Slack signs "v0:{timestamp}:{body}" with HMAC-SHA256 and sends the
// hex digest as "v0={digest}" in X-Slack-Signature. Comparison uses
// constant-time equality to prevent timing side-channel attacks.
func VerifySignature(secret, timestamp, signature string, body []byte) error {
	return verifySignatureAt(secret, timestamp, signature, body, time.Now())
}

func verifySignatureAt(secret, timestamp, signature string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("slack: parse request timestamp: %w", err)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > maxSignatureAge || age < -maxSignatureAge {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// Interaction is the subset of a Slack block_actions payload the service
// acts on.
type Interaction struct {
	Type    string `json:"type"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Team struct {
		ID string `json:"id"`
	} `json:"team"`
}

// ParseInteraction decodes the JSON interaction payload Slack sends as the
// "payload" form field.
func ParseInteraction(payload []byte) (*Interaction, error) {
	var in Interaction
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("slack: decode interaction payload: %w", err)
	}
	return &in, nil
}

// Actor returns the best available identifier for the user who pressed the
// button.
func (in *Interaction) Actor() string {
	if in.User.Username != "" {
		return in.User.Username
	}
	if in.User.ID != "" {
		return in.User.ID
	}
	return "unknown"
}

// First returns the first action in the payload, or empty strings when the
// payload carries none.
func (in *Interaction) First() (actionID, value string) {
	if len(in.Actions) == 0 {
		return "", ""
	}
	return in.Actions[0].ActionID, in.Actions[0].Value
}
