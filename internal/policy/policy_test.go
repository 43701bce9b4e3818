package policy

import (
	"errors"
	"strings"
	"testing"
)

func TestIsAllowed(t *testing.T) {
	t.Parallel()

	p := New("rollout_restart,scale_up", "default, prod")

	tests := []struct {
		name      string
		action    string
		namespace string
		want      bool
	}{
		{"allowed pair", "rollout_restart", "default", true},
		{"second action", "scale_up", "prod", true},
		{"trimmed namespace", "rollout_restart", "prod", true},
		{"unknown action", "delete_pod", "default", false},
		{"unknown namespace", "rollout_restart", "kube-system", false},
		{"both unknown", "delete_pod", "kube-system", false},
		{"empty action", "", "default", false},
		{"empty namespace", "rollout_restart", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := p.IsAllowed(tt.action, tt.namespace); got != tt.want {
				t.Errorf("IsAllowed(%q, %q) = %v, want %v", tt.action, tt.namespace, got, tt.want)
			}
		})
	}
}

func TestAssertAllowed_DeniedAction(t *testing.T) {
	t.Parallel()

	p := New("rollout_restart", "default")

	err := p.AssertAllowed("delete_pod", "default")
	if err == nil {
		t.Fatal("expected error for disallowed action")
	}
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error type = %T, want *DeniedError", err)
	}
	if denied.Action != "delete_pod" {
		t.Errorf("Action = %q, want %q", denied.Action, "delete_pod")
	}
	if !strings.Contains(err.Error(), "action not allowed") {
		t.Errorf("error = %q, want action denial", err)
	}
}

func TestAssertAllowed_DeniedNamespace(t *testing.T) {
	t.Parallel()

	p := New("rollout_restart", "default")

	err := p.AssertAllowed("rollout_restart", "kube-system")
	if err == nil {
		t.Fatal("expected error for disallowed namespace")
	}
	if !strings.Contains(err.Error(), "namespace not allowed: kube-system") {
		t.Errorf("error = %q, want namespace denial", err)
	}
}

func TestAssertAllowed_Permitted(t *testing.T) {
	t.Parallel()

	p := New("rollout_restart", "default,prod")
	if err := p.AssertAllowed("rollout_restart", "prod"); err != nil {
		t.Errorf("AssertAllowed = %v, want nil", err)
	}
}

func TestNew_EmptyAndRaggedCSV(t *testing.T) {
	t.Parallel()

	p := New("", " , ,")
	if p.IsAllowed("rollout_restart", "default") {
		t.Error("empty policy should deny everything")
	}

	p = New("rollout_restart,,rollout_restart", "default")
	if !p.IsAllowed("rollout_restart", "default") {
		t.Error("duplicate/empty CSV entries should still yield a working policy")
	}
}
