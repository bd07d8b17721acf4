package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsbase/notify/pkg/resolver"
)

func TestRuleMatchPersistedForm(t *testing.T) {
	t.Parallel()

	t.Run("field match round-trips", func(t *testing.T) {
		t.Parallel()

		field, values := encodeRuleMatch(resolver.FieldMatch{Field: "region", Values: []string{"eu", "us"}})
		assert.Equal(t, "region", field)
		assert.Equal(t, []string{"eu", "us"}, values)

		got := decodeRuleMatch(field, values)
		require.IsType(t, resolver.FieldMatch{}, got)
		assert.True(t, got.Matches(map[string]any{"region": "eu"}))
		assert.False(t, got.Matches(map[string]any{"region": "apac"}))
	})

	t.Run("status match flattens to the status field", func(t *testing.T) {
		t.Parallel()

		field, values := encodeRuleMatch(resolver.StatusMatch{Statuses: []string{"approved"}})
		assert.Equal(t, "status", field)

		got := decodeRuleMatch(field, values)
		assert.True(t, got.Matches(map[string]any{"status": "approved"}))
		assert.False(t, got.Matches(map[string]any{"status": "draft"}))
	})

	t.Run("match-everything rules decode to nil", func(t *testing.T) {
		t.Parallel()

		for _, m := range []resolver.Matcher{nil, resolver.AnyMatch{}} {
			field, values := encodeRuleMatch(m)
			assert.Empty(t, field)
			assert.Empty(t, values)
			assert.Nil(t, decodeRuleMatch(field, values))
		}
	})
}
