// Package policy decides whether a remediation action is permitted in a
// namespace. A Policy is built once at startup from configuration and passed
// to whoever needs it; there is no ambient allow-list state.
package policy

import (
	"fmt"
	"strings"
)

// DeniedError reports an action/namespace pair outside the allow-lists.
// Callers must treat it as a hard stop, not a retryable condition.
type DeniedError struct {
	Action    string
	Namespace string
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("not allowed: %s", e.Reason)
}

// Policy holds the static allow-lists for remediation actions.
type Policy struct {
	actions    map[string]struct{}
	namespaces map[string]struct{}
}

// New builds a Policy from two CSV allow-lists. Entries are trimmed and
// empty entries dropped.
func New(actionsCSV, namespacesCSV string) *Policy {
	return &Policy{
		actions:    splitCSV(actionsCSV),
		namespaces: splitCSV(namespacesCSV),
	}
}

// IsAllowed reports whether action may run in namespace.
func (p *Policy) IsAllowed(action, namespace string) bool {
	_, actionOK := p.actions[action]
	_, nsOK := p.namespaces[namespace]
	return actionOK && nsOK
}

// AssertAllowed returns a *DeniedError naming the first allow-list that
// excludes the input, or nil when the pair is permitted.
func (p *Policy) AssertAllowed(action, namespace string) error {
	if _, ok := p.actions[action]; !ok {
		return &DeniedError{Action: action, Namespace: namespace, Reason: "action not allowed: " + action}
	}
	if _, ok := p.namespaces[namespace]; !ok {
		return &DeniedError{Action: action, Namespace: namespace, Reason: "namespace not allowed: " + namespace}
	}
	return nil
}

func splitCSV(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out[part] = struct{}{}
	}
	return out
}
