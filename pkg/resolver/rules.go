package resolver

import (
	"context"
	"sync"
)

// Matcher decides whether a role rule applies to an event payload.
// Known event categories get a small typed matcher; FieldMatch is the
// generic fallback for forward extensibility.
type Matcher interface {
	Matches(payload map[string]any) bool
}

// AnyMatch applies the rule to every event of its (module, event type).
type AnyMatch struct{}

func (AnyMatch) Matches(map[string]any) bool { return true }

// StatusMatch applies the rule only when the payload's "status" field
// is one of the allowed values. Used by status-transition events.
type StatusMatch struct {
	Statuses []string
}

func (m StatusMatch) Matches(payload map[string]any) bool {
	status, ok := payload["status"].(string)
	if !ok {
		return false
	}
	for _, s := range m.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// FieldMatch is the generic fallback: the named payload field must hold
// one of the listed string values.
type FieldMatch struct {
	Field  string
	Values []string
}

func (m FieldMatch) Matches(payload map[string]any) bool {
	v, ok := payload[m.Field].(string)
	if !ok {
		return false
	}
	for _, want := range m.Values {
		if want == v {
			return true
		}
	}
	return false
}

// RoleRule subscribes members of a role to an event type within a
// module. Rules seed preference defaults at role-assignment time but
// never override a user's materialized preferences.
type RoleRule struct {
	Role      string
	Module    string
	EventType string
	Enabled   bool
	// AutoFollow expands the rule to all active role members during
	// fan-out, with reason auto_role.
	AutoFollow bool
	// Match narrows the rule to payloads it applies to. Nil matches everything.
	Match Matcher
}

// Applies reports whether the rule fires for the payload.
func (r RoleRule) Applies(payload map[string]any) bool {
	if !r.Enabled || !r.AutoFollow {
		return false
	}
	if r.Match == nil {
		return true
	}
	return r.Match.Matches(payload)
}

// RuleSource provides role notification rules for an event.
type RuleSource interface {
	RulesFor(ctx context.Context, module, eventType string) ([]RoleRule, error)
}

// RoleDirectory enumerates active members of a role within a tenant.
// Backed by the platform's authorization store; queried read-only.
type RoleDirectory interface {
	ActiveMembers(ctx context.Context, tenantID, role string) ([]string, error)
}

// MemoryRuleSource is an in-memory RuleSource for development and testing.
type MemoryRuleSource struct {
	mu    sync.RWMutex
	rules []RoleRule
}

// NewMemoryRuleSource creates a rule source from a fixed rule set.
func NewMemoryRuleSource(rules ...RoleRule) *MemoryRuleSource {
	return &MemoryRuleSource{rules: rules}
}

// Add registers an additional rule.
func (s *MemoryRuleSource) Add(rule RoleRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

func (s *MemoryRuleSource) RulesFor(ctx context.Context, module, eventType string) ([]RoleRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RoleRule
	for _, r := range s.rules {
		if r.Module == module && r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out, nil
}
