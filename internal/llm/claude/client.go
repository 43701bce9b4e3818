// Package claude provides a minimal client for the Claude messages API,
// used to produce a short diagnostic summary attached to incident evidence.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/warden/internal/incident"
)

const defaultModel = "claude-sonnet-4-20250514"

const systemPrompt = "You are an SRE assistant. Given an alert and Kubernetes " +
	"evidence, write a 2-3 sentence diagnosis of the likely cause. Be concrete " +
	"and cautious; do not recommend actions."

// Client calls the Claude messages API. With no API key configured it is
// disabled and Summarize reports an error, which callers treat as
// best-effort and skip.
type Client struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

// New creates a Claude client. An empty apiKey yields a disabled client; an
// empty model selects the default.
func New(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Enabled reports whether the client has an API key to call with.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Message represents a single message in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents the payload sent to the Claude API.
type Request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

// ContentBlock represents a single block of content in a response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Response represents the payload received from the Claude API.
type Response struct {
	ID         string         `json:"id"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Usage represents the token usage information returned by the Claude API.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Summarize asks the model for a short diagnosis of the incident based on
// its alert fields and collected evidence.
func (c *Client) Summarize(ctx context.Context, inc *incident.Incident) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("claude: no api key configured")
	}

	resp, err := c.send(ctx, &Request{
		MaxTokens: 300,
		System:    systemPrompt,
		Messages: []Message{
			{Role: "user", Content: renderPrompt(inc)},
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("claude: empty completion")
	}
	return text, nil
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	req.Model = c.model

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("claude api error %d: %s", resp.StatusCode, string(respBody))
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &out, nil
}

func renderPrompt(inc *incident.Incident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s\n", inc.AlertName)
	fmt.Fprintf(&b, "Severity: %s\n", inc.Severity)
	fmt.Fprintf(&b, "Service: %s\nNamespace: %s\nEnv: %s\n", inc.Service, inc.Namespace, inc.Env)

	if ev, ok := inc.Evidence["k8s"]; ok {
		if raw, err := json.Marshal(ev); err == nil {
			const maxEvidence = 4000
			snippet := string(raw)
			if len(snippet) > maxEvidence {
				snippet = snippet[:maxEvidence]
			}
			fmt.Fprintf(&b, "Kubernetes evidence (JSON):\n%s\n", snippet)
		}
	}
	return b.String()
}
