package k8s

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func podJSON(name, phase, node string, restarts int, ready bool) map[string]any {
	return map[string]any{
		"metadata": map[string]any{"name": name},
		"spec":     map[string]any{"nodeName": node},
		"status": map[string]any{
			"phase": phase,
			"containerStatuses": []map[string]any{
				{"ready": ready, "restartCount": restarts},
			},
		},
	}
}

func TestCollectBasic_Disabled(t *testing.T) {
	t.Parallel()

	c := NewCollector(nil, nil)
	if c.Enabled() {
		t.Error("collector with nil client should be disabled")
	}

	ev := c.CollectBasic(context.Background(), "default", "checkout")
	if ev.Enabled {
		t.Error("Enabled = true, want false")
	}
	if ev.Note == "" {
		t.Error("expected a note explaining the disabled state")
	}
}

func TestCollectBasic_PodsAndEvents(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sa-token" {
			t.Errorf("authorization = %q, want bearer token", got)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/pods"):
			if sel := r.URL.Query().Get("labelSelector"); sel != "app=checkout" {
				// only the first selector should be needed here
				t.Errorf("labelSelector = %q, want app=checkout", sel)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					podJSON("checkout-abc", "Running", "node-1", 4, false),
					podJSON("checkout-def", "Running", "node-2", 0, true),
				},
			})
		case strings.HasSuffix(r.URL.Path, "/events"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"reason": "Scheduled", "message": "assigned", "type": "Normal",
						"involvedObject": map[string]any{"name": "checkout-abc"}},
					{"reason": "Killing", "message": "unrelated pod", "type": "Normal",
						"involvedObject": map[string]any{"name": "other-pod"}},
					{"reason": "BackOff", "message": "restarting container", "type": "Warning",
						"involvedObject": map[string]any{"name": "checkout-abc"}},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCollector(NewClient(srv.URL, "sa-token", false), nil)
	ev := c.CollectBasic(context.Background(), "prod", "checkout")

	if !ev.Enabled {
		t.Fatalf("Enabled = false, note = %q", ev.Note)
	}
	if len(ev.Pods) != 2 {
		t.Fatalf("pods = %d, want 2", len(ev.Pods))
	}
	if ev.Pods[0].Restarts != 4 || ev.Pods[0].Ready {
		t.Errorf("pod[0] = %+v, want 4 restarts, not ready", ev.Pods[0])
	}
	if !ev.Pods[1].Ready {
		t.Errorf("pod[1] = %+v, want ready", ev.Pods[1])
	}

	// only events involving our pods, newest first
	if len(ev.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(ev.Events))
	}
	if ev.Events[0].Reason != "BackOff" {
		t.Errorf("events[0].Reason = %q, want BackOff (newest first)", ev.Events[0].Reason)
	}
}

func TestCollectBasic_SelectorFallback(t *testing.T) {
	t.Parallel()

	var selectors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/pods") {
			selectors = append(selectors, r.URL.Query().Get("labelSelector"))
			items := []map[string]any{}
			// only the unselected namespace-wide listing has pods
			if r.URL.Query().Get("labelSelector") == "" {
				items = append(items, podJSON("lonely-pod", "Pending", "", 0, false))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
	}))
	defer srv.Close()

	c := NewCollector(NewClient(srv.URL, "", false), nil)
	ev := c.CollectBasic(context.Background(), "default", "ghost")

	want := []string{"app=ghost", "service=ghost", ""}
	if len(selectors) != len(want) {
		t.Fatalf("selector attempts = %v, want %v", selectors, want)
	}
	for i := range want {
		if selectors[i] != want[i] {
			t.Errorf("selector[%d] = %q, want %q", i, selectors[i], want[i])
		}
	}
	if len(ev.Pods) != 1 || ev.Pods[0].Name != "lonely-pod" {
		t.Errorf("pods = %+v, want the namespace-wide fallback pod", ev.Pods)
	}
}

func TestCollectBasic_DegradesOnServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCollector(NewClient(srv.URL, "", false), nil)
	ev := c.CollectBasic(context.Background(), "default", "checkout")

	if ev.Enabled {
		t.Error("Enabled = true, want degraded false")
	}
	if !strings.Contains(ev.Note, "pod lookup failed") {
		t.Errorf("Note = %q, want pod lookup failure", ev.Note)
	}
}

func TestCollectBasic_EventsFailureKeepsPods(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/pods") {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{podJSON("p-1", "Running", "n", 0, true)},
			})
			return
		}
		http.Error(w, "events unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewCollector(NewClient(srv.URL, "", false), nil)
	ev := c.CollectBasic(context.Background(), "default", "checkout")

	if !ev.Enabled {
		t.Fatal("Enabled = false, want true (pods alone are valid evidence)")
	}
	if len(ev.Pods) != 1 {
		t.Errorf("pods = %d, want 1", len(ev.Pods))
	}
	if len(ev.Events) != 0 {
		t.Errorf("events = %d, want 0", len(ev.Events))
	}
}
