// Package k8s talks to the Kubernetes API server over its REST interface.
// It provides the evidence collector used during incident creation and the
// action executor used by the approval flow. Both degrade to an explicit
// disabled state when no endpoint is configured.
package k8s

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

const (
	httpTimeout     = 15 * time.Second
	maxResponseSize = 5 << 20 // 5 MB
)

// Client is a minimal Kubernetes API client using bearer-token auth.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client for the given API server endpoint. An empty
// endpoint yields a nil Client; callers treat nil as "not configured".
// insecure skips TLS verification, for clusters reached through a tunnel
// with a self-signed API cert.
func NewClient(endpoint, token string, insecure bool) *Client {
	if endpoint == "" {
		return nil
	}

	transport := http.DefaultTransport
	if insecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // G402: opt-in via config for self-signed cluster certs
		}
	}

	return &Client{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout:   httpTimeout,
			Transport: transport,
		},
	}
}

func (c *Client) do(ctx context.Context, method, apiPath string, query url.Values, contentType string, body []byte) ([]byte, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, apiPath)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: endpoint is from trusted config; path segments are cluster resource names
	if err != nil {
		return nil, fmt.Errorf("kube api request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("kube api returned %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, apiPath string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, apiPath, query, "", nil)
}

func (c *Client) patch(ctx context.Context, apiPath, contentType string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPatch, apiPath, nil, contentType, body)
}
