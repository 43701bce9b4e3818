package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/linnemanlabs/go-core/log"
)

const (
	maxPods   = 25
	maxEvents = 25
)

// PodInfo is a condensed pod snapshot attached to incident evidence.
type PodInfo struct {
	Name     string `json:"name"`
	Phase    string `json:"phase"`
	Node     string `json:"node"`
	Restarts int    `json:"restarts"`
	Ready    bool   `json:"ready"`
}

// EventInfo is a condensed namespace event attached to incident evidence.
type EventInfo struct {
	Reason   string `json:"reason"`
	Message  string `json:"message"`
	Type     string `json:"type"`
	Involved string `json:"involved"`
}

// Evidence is the cluster snapshot for one incident. Enabled is false when
// the collector has no cluster to talk to or the lookup failed; the rest of
// the pipeline treats that as a valid, degraded result.
type Evidence struct {
	Enabled bool        `json:"enabled"`
	Note    string      `json:"note,omitempty"`
	Pods    []PodInfo   `json:"pods,omitempty"`
	Events  []EventInfo `json:"events,omitempty"`
}

// Collector gathers pod and event snapshots for a (namespace, service) pair.
type Collector struct {
	client *Client
	logger log.Logger
}

// NewCollector creates a Collector. A nil client produces a permanently
// disabled collector.
func NewCollector(client *Client, logger log.Logger) *Collector {
	if logger == nil {
		logger = log.Nop()
	}
	return &Collector{client: client, logger: logger}
}

// Enabled reports whether the collector has a cluster to query.
func (c *Collector) Enabled() bool { return c.client != nil }

// CollectBasic returns pods matching the service (by app= or service= label,
// falling back to the whole namespace) plus the namespace events involving
// those pods. It never returns an error: any failure degrades to
// Evidence{Enabled: false} so incident creation can proceed.
func (c *Collector) CollectBasic(ctx context.Context, namespace, service string) Evidence {
	if c.client == nil {
		return Evidence{Enabled: false, Note: "kubernetes client not configured"}
	}

	pods, err := c.listPods(ctx, namespace, service)
	if err != nil {
		c.logger.Warn(ctx, "evidence collection degraded", "namespace", namespace, "service", service, "error", err)
		return Evidence{Enabled: false, Note: fmt.Sprintf("pod lookup failed: %v", err)}
	}

	events, err := c.listEvents(ctx, namespace, pods)
	if err != nil {
		// pods alone are still useful evidence
		c.logger.Warn(ctx, "event collection degraded", "namespace", namespace, "error", err)
		events = nil
	}

	return Evidence{Enabled: true, Pods: pods, Events: events}
}

type podList struct {
	Items []struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
		Spec struct {
			NodeName string `json:"nodeName"`
		} `json:"spec"`
		Status struct {
			Phase             string `json:"phase"`
			ContainerStatuses []struct {
				Ready        bool `json:"ready"`
				RestartCount int  `json:"restartCount"`
			} `json:"containerStatuses"`
		} `json:"status"`
	} `json:"items"`
}

func (c *Collector) listPods(ctx context.Context, namespace, service string) ([]PodInfo, error) {
	apiPath := fmt.Sprintf("/api/v1/namespaces/%s/pods", namespace)

	// label selector preference mirrors how services usually tag their pods
	selectors := []string{"app=" + service, "service=" + service, ""}

	var pl podList
	for _, sel := range selectors {
		q := url.Values{"limit": {fmt.Sprintf("%d", maxPods)}}
		if sel != "" {
			q.Set("labelSelector", sel)
		}

		data, err := c.client.get(ctx, apiPath, q)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &pl); err != nil {
			return nil, fmt.Errorf("decode pod list: %w", err)
		}
		if len(pl.Items) > 0 {
			break
		}
	}

	out := make([]PodInfo, 0, len(pl.Items))
	for _, p := range pl.Items {
		if len(out) >= maxPods {
			break
		}
		info := PodInfo{
			Name:  p.Metadata.Name,
			Phase: p.Status.Phase,
			Node:  p.Spec.NodeName,
			Ready: len(p.Status.ContainerStatuses) > 0,
		}
		for _, cs := range p.Status.ContainerStatuses {
			info.Restarts += cs.RestartCount
			if !cs.Ready {
				info.Ready = false
			}
		}
		out = append(out, info)
	}
	return out, nil
}

type eventList struct {
	Items []struct {
		Reason         string `json:"reason"`
		Message        string `json:"message"`
		Type           string `json:"type"`
		InvolvedObject struct {
			Name string `json:"name"`
		} `json:"involvedObject"`
	} `json:"items"`
}

func (c *Collector) listEvents(ctx context.Context, namespace string, pods []PodInfo) ([]EventInfo, error) {
	podNames := make(map[string]struct{}, len(pods))
	for _, p := range pods {
		podNames[p.Name] = struct{}{}
	}

	data, err := c.client.get(ctx, fmt.Sprintf("/api/v1/namespaces/%s/events", namespace), nil)
	if err != nil {
		return nil, err
	}

	var el eventList
	if err := json.Unmarshal(data, &el); err != nil {
		return nil, fmt.Errorf("decode event list: %w", err)
	}

	// newest first; the API returns events oldest first
	var out []EventInfo
	for i := len(el.Items) - 1; i >= 0 && len(out) < maxEvents; i-- {
		e := el.Items[i]
		if _, ok := podNames[e.InvolvedObject.Name]; !ok {
			continue
		}
		out = append(out, EventInfo{
			Reason:   e.Reason,
			Message:  e.Message,
			Type:     e.Type,
			Involved: e.InvolvedObject.Name,
		})
	}
	return out, nil
}
