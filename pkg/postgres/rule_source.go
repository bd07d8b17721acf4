package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbase/notify/pkg/resolver"
)

// RuleSource is the Postgres implementation of resolver.RuleSource.
//
// Matchers persist as (match_field, match_values): an empty field
// means the rule matches every event of its type, a non-empty field
// decodes to a FieldMatch. That flat form covers StatusMatch too,
// which is FieldMatch over the "status" field.
type RuleSource struct {
	pool *pgxpool.Pool
}

var _ resolver.RuleSource = (*RuleSource)(nil)

// NewRuleSource creates role-rule storage over the pool.
func NewRuleSource(pool *pgxpool.Pool) *RuleSource {
	return &RuleSource{pool: pool}
}

func (s *RuleSource) RulesFor(ctx context.Context, module, eventType string) ([]resolver.RoleRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT module, event_type, role, enabled, auto_follow, match_field, match_values
		FROM role_notification_rules
		WHERE module = $1 AND event_type = $2`,
		module, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to query role rules: %w", err)
	}
	defer rows.Close()

	var rules []resolver.RoleRule
	for rows.Next() {
		var (
			rule        resolver.RoleRule
			matchField  string
			matchValues []string
		)
		if err := rows.Scan(&rule.Module, &rule.EventType, &rule.Role,
			&rule.Enabled, &rule.AutoFollow, &matchField, &matchValues); err != nil {
			return nil, fmt.Errorf("failed to scan role rule: %w", err)
		}
		rule.Match = decodeRuleMatch(matchField, matchValues)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read role rules: %w", err)
	}
	return rules, nil
}

// Upsert installs or replaces the rule for its (module, event type,
// role) key. Only FieldMatch (and nil) matchers round-trip through the
// persisted form; other matchers store as match-everything.
func (s *RuleSource) Upsert(ctx context.Context, rule resolver.RoleRule) error {
	matchField, matchValues := encodeRuleMatch(rule.Match)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO role_notification_rules (
			module, event_type, role, enabled, auto_follow,
			match_field, match_values, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (module, event_type, role) DO UPDATE SET
			enabled      = EXCLUDED.enabled,
			auto_follow  = EXCLUDED.auto_follow,
			match_field  = EXCLUDED.match_field,
			match_values = EXCLUDED.match_values,
			updated_at   = now()`,
		rule.Module, rule.EventType, rule.Role, rule.Enabled, rule.AutoFollow,
		matchField, matchValues)
	if err != nil {
		return fmt.Errorf("failed to upsert role rule: %w", err)
	}
	return nil
}

func encodeRuleMatch(m resolver.Matcher) (field string, values []string) {
	switch m := m.(type) {
	case resolver.FieldMatch:
		return m.Field, m.Values
	case resolver.StatusMatch:
		return "status", m.Statuses
	default:
		// AnyMatch and nil both persist as match-everything.
		return "", nil
	}
}

func decodeRuleMatch(field string, values []string) resolver.Matcher {
	if field == "" {
		return nil
	}
	return resolver.FieldMatch{Field: field, Values: values}
}

// Delete removes the rule; deleting an absent rule is a no-op.
func (s *RuleSource) Delete(ctx context.Context, module, eventType, role string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM role_notification_rules
		WHERE module = $1 AND event_type = $2 AND role = $3`,
		module, eventType, role)
	if err != nil {
		return fmt.Errorf("failed to delete role rule: %w", err)
	}
	return nil
}
