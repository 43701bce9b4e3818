package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// VerifyResult is the outcome of the post-restart rollout check.
type VerifyResult struct {
	OK          bool   `json:"ok"`
	Desired     int    `json:"desired"`
	Updated     int    `json:"updated"`
	Available   int    `json:"available"`
	Ready       int    `json:"ready"`
	PodCount    int    `json:"pod_count"`
	MaxRestarts int    `json:"max_restarts"`
	RestartedAt string `json:"restarted_at"`
}

// Actions executes remediation against the cluster.
type Actions struct {
	client *Client
	logger log.Logger
}

// NewActions creates an Actions executor. A nil client yields an executor
// whose calls fail with a configuration error.
func NewActions(client *Client, logger log.Logger) *Actions {
	if logger == nil {
		logger = log.Nop()
	}
	return &Actions{client: client, logger: logger}
}

// RolloutRestart patches the deployment's pod template with a restartedAt
// annotation, the same mechanism kubectl rollout restart uses. The returned
// summary is user-facing.
func (a *Actions) RolloutRestart(ctx context.Context, namespace, deployment string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("kubernetes client not configured")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	patch := map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{
					"annotations": map[string]string{
						"kubectl.kubernetes.io/restartedAt": now,
					},
				},
			},
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return "", fmt.Errorf("marshal patch: %w", err)
	}

	apiPath := fmt.Sprintf("/apis/apps/v1/namespaces/%s/deployments/%s", namespace, deployment)
	if _, err := a.client.patch(ctx, apiPath, "application/strategic-merge-patch+json", body); err != nil {
		return "", fmt.Errorf("rollout restart %s/%s: %w", namespace, deployment, err)
	}

	a.logger.Info(ctx, "rollout restart triggered", "namespace", namespace, "deployment", deployment, "restarted_at", now)
	return fmt.Sprintf("Restart triggered for deployment %s in namespace %s at %s", deployment, namespace, now), nil
}

type deploymentStatus struct {
	Spec struct {
		Replicas int `json:"replicas"`
	} `json:"spec"`
	Status struct {
		UpdatedReplicas   int `json:"updatedReplicas"`
		AvailableReplicas int `json:"availableReplicas"`
		ReadyReplicas     int `json:"readyReplicas"`
	} `json:"status"`
}

// VerifyRollout polls the deployment until updated, available and ready
// replica counts all meet the desired count, or until timeout elapses. One
// final read always happens after the deadline so the recorded result
// reflects the last observable state rather than the last poll tick.
func (a *Actions) VerifyRollout(ctx context.Context, namespace, deployment string, timeout, interval time.Duration) VerifyResult {
	res := VerifyResult{RestartedAt: time.Now().UTC().Format(time.RFC3339)}
	if a.client == nil {
		return res
	}

	deadline := time.Now().Add(timeout)
	for {
		if ok := a.observe(ctx, namespace, deployment, &res); ok {
			res.OK = true
			break
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			// final read after the deadline, exactly once
			res.OK = a.observe(ctx, namespace, deployment, &res)
			break
		}
	}

	a.fillPodStats(ctx, namespace, deployment, &res)
	return res
}

// observe refreshes replica counts on res and reports convergence.
func (a *Actions) observe(ctx context.Context, namespace, deployment string, res *VerifyResult) bool {
	apiPath := fmt.Sprintf("/apis/apps/v1/namespaces/%s/deployments/%s", namespace, deployment)
	data, err := a.client.get(ctx, apiPath, nil)
	if err != nil {
		a.logger.Warn(ctx, "verify read failed", "namespace", namespace, "deployment", deployment, "error", err)
		return false
	}

	var d deploymentStatus
	if err := json.Unmarshal(data, &d); err != nil {
		a.logger.Warn(ctx, "verify decode failed", "error", err)
		return false
	}

	res.Desired = d.Spec.Replicas
	res.Updated = d.Status.UpdatedReplicas
	res.Available = d.Status.AvailableReplicas
	res.Ready = d.Status.ReadyReplicas

	return res.Desired > 0 &&
		res.Updated >= res.Desired &&
		res.Available >= res.Desired &&
		res.Ready >= res.Desired
}

func (a *Actions) fillPodStats(ctx context.Context, namespace, deployment string, res *VerifyResult) {
	collector := NewCollector(a.client, a.logger)
	pods, err := collector.listPods(ctx, namespace, deployment)
	if err != nil {
		return
	}
	res.PodCount = len(pods)
	for _, p := range pods {
		if p.Restarts > res.MaxRestarts {
			res.MaxRestarts = p.Restarts
		}
	}
}
