package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/preference"
	"github.com/opsbase/notify/pkg/sendlimit"
)

// memoryDirectory is a fixed role membership map for tests.
type memoryDirectory struct {
	members map[string][]string // role -> user IDs
	err     error
	failFor string
}

func (d *memoryDirectory) ActiveMembers(ctx context.Context, tenantID, role string) ([]string, error) {
	if d.err != nil && (d.failFor == "" || d.failFor == role) {
		return nil, d.err
	}
	return d.members[role], nil
}

func baseEvent() Event {
	return Event{
		TenantID:  "t1",
		Module:    "sales_orders",
		EventType: "order_created",
		Title:     "Order created",
		Channels:  []notification.Channel{notification.ChannelInApp, notification.ChannelEmail},
	}
}

func TestResolver_ExplicitRecipients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("included with defaults", func(t *testing.T) {
		t.Parallel()

		r := New(preference.NewMemoryStore(), nil, nil)
		ev := baseEvent()
		ev.ExplicitRecipients = []string{"u1", "u2"}

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "u1", got[0].UserID)
		assert.Equal(t, ReasonExplicit, got[0].Reason)
		assert.Equal(t, ev.Channels, got[0].Channels)
	})

	t.Run("disabled channel removed", func(t *testing.T) {
		t.Parallel()

		prefs := preference.NewMemoryStore()
		require.NoError(t, prefs.Upsert(ctx, preference.Preference{
			UserID: "u1", TenantID: "t1", Module: "sales_orders",
			Channels: map[notification.Channel]bool{
				notification.ChannelInApp: true,
				notification.ChannelEmail: false,
			},
		}))

		r := New(prefs, nil, nil)
		ev := baseEvent()
		ev.ExplicitRecipients = []string{"u1"}

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []notification.Channel{notification.ChannelInApp}, got[0].Channels)
	})

	t.Run("disabled event excludes user", func(t *testing.T) {
		t.Parallel()

		prefs := preference.NewMemoryStore()
		require.NoError(t, prefs.Upsert(ctx, preference.Preference{
			UserID: "u1", TenantID: "t1", Module: "sales_orders",
			EventOverrides: map[string]preference.EventOverride{
				"order_created": {Enabled: false},
			},
		}))

		r := New(prefs, nil, nil)
		ev := baseEvent()
		ev.ExplicitRecipients = []string{"u1"}

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		r := New(preference.NewMemoryStore(), nil, nil)

		_, err := r.Resolve(ctx, Event{EventType: "x"})
		assert.ErrorIs(t, err, ErrMissingTenantID)

		_, err = r.Resolve(ctx, Event{TenantID: "t1"})
		assert.ErrorIs(t, err, ErrMissingEventType)
	})
}

func TestResolver_RoleExpansion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("auto-follow members added and deduplicated", func(t *testing.T) {
		t.Parallel()

		rules := NewMemoryRuleSource(RoleRule{
			Role: "manager", Module: "sales_orders", EventType: "status_changed",
			Enabled: true, AutoFollow: true,
		})
		dir := &memoryDirectory{members: map[string][]string{
			"manager": {"u1", "u2"},
		}}

		r := New(preference.NewMemoryStore(), rules, dir)
		ev := baseEvent()
		ev.EventType = "status_changed"
		ev.ExplicitRecipients = []string{"u1"} // also a manager

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		require.Len(t, got, 2, "explicit assignee who is also a manager yields one resolution")
		assert.Equal(t, ReasonExplicit, got[0].Reason, "explicit reason wins for u1")
		assert.Equal(t, ReasonAutoRole, got[1].Reason)
	})

	t.Run("disabled rule ignored", func(t *testing.T) {
		t.Parallel()

		rules := NewMemoryRuleSource(RoleRule{
			Role: "manager", Module: "sales_orders", EventType: "status_changed",
			Enabled: false, AutoFollow: true,
		})
		dir := &memoryDirectory{members: map[string][]string{"manager": {"u1"}}}

		r := New(preference.NewMemoryStore(), rules, dir)
		ev := baseEvent()
		ev.EventType = "status_changed"

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("match config gates expansion", func(t *testing.T) {
		t.Parallel()

		rules := NewMemoryRuleSource(RoleRule{
			Role: "approver", Module: "fleet", EventType: "status_changed",
			Enabled: true, AutoFollow: true,
			Match: StatusMatch{Statuses: []string{"needs_approval"}},
		})
		dir := &memoryDirectory{members: map[string][]string{"approver": {"u3"}}}

		r := New(preference.NewMemoryStore(), rules, dir)
		ev := baseEvent()
		ev.Module = "fleet"
		ev.EventType = "status_changed"

		ev.Payload = map[string]any{"status": "in_service"}
		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		assert.Empty(t, got)

		ev.Payload = map[string]any{"status": "needs_approval"}
		got, err = r.Resolve(ctx, ev)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "u3", got[0].UserID)
	})

	t.Run("role failure isolated", func(t *testing.T) {
		t.Parallel()

		rules := NewMemoryRuleSource(
			RoleRule{Role: "broken", Module: "sales_orders", EventType: "order_created", Enabled: true, AutoFollow: true},
			RoleRule{Role: "manager", Module: "sales_orders", EventType: "order_created", Enabled: true, AutoFollow: true},
		)
		dir := &memoryDirectory{
			members: map[string][]string{"manager": {"u2"}},
			err:     errors.New("directory down"),
			failFor: "broken",
		}

		r := New(preference.NewMemoryStore(), rules, dir)
		ev := baseEvent()
		ev.ExplicitRecipients = []string{"u1"}

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err, "one broken role never fails the batch")
		require.Len(t, got, 2)
		assert.Equal(t, "u1", got[0].UserID)
		assert.Equal(t, "u2", got[1].UserID)
	})
}

func TestResolver_RateLimitDemotion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	prefs := preference.NewMemoryStore()
	require.NoError(t, prefs.Upsert(ctx, preference.Preference{
		UserID: "u1", TenantID: "t1", Module: "sales_orders",
		MaxPerHour: 1,
	}))

	limiter, err := sendlimit.NewLimiter(sendlimit.NewMemoryStore(sendlimit.WithCleanupInterval(0)))
	require.NoError(t, err)

	r := New(prefs, nil, nil, WithLimiter(limiter))
	ev := baseEvent()
	ev.ExplicitRecipients = []string{"u1"}

	// First event consumes the budget.
	got, err := r.Resolve(ctx, ev)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Demoted)
	assert.Equal(t, ev.Channels, got[0].Channels)

	// Second event is demoted to in-app only, never dropped.
	got, err = r.Resolve(ctx, ev)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Demoted)
	assert.Equal(t, []notification.Channel{notification.ChannelInApp}, got[0].Channels)
}

func TestResolver_RateLimitFailsOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	prefs := preference.NewMemoryStore()
	require.NoError(t, prefs.Upsert(ctx, preference.Preference{
		UserID: "u1", TenantID: "t1", Module: "sales_orders",
		MaxPerHour: 1,
	}))

	limiter, err := sendlimit.NewLimiter(brokenStore{})
	require.NoError(t, err)

	r := New(prefs, nil, nil, WithLimiter(limiter))
	ev := baseEvent()
	ev.ExplicitRecipients = []string{"u1"}

	got, err := r.Resolve(ctx, ev)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Demoted, "a broken counter must not demote anyone")
	assert.Equal(t, ev.Channels, got[0].Channels)
}

func TestResolver_QuietHours(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	night := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)

	newPrefs := func(t *testing.T) preference.Store {
		t.Helper()
		prefs := preference.NewMemoryStore()
		require.NoError(t, prefs.Upsert(ctx, preference.Preference{
			UserID: "u1", TenantID: "t1", Module: "sales_orders",
			QuietHours: &preference.QuietWindow{Start: "22:00", End: "07:00"},
		}))
		return prefs
	}

	t.Run("external channels deferred to window end", func(t *testing.T) {
		t.Parallel()

		r := New(newPrefs(t), nil, nil, WithClock(func() time.Time { return night }))
		ev := baseEvent()
		ev.ExplicitRecipients = []string{"u1"}

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NotNil(t, got[0].DeferUntil)
		assert.Equal(t, time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC), *got[0].DeferUntil)
	})

	t.Run("in-app only is never deferred", func(t *testing.T) {
		t.Parallel()

		r := New(newPrefs(t), nil, nil, WithClock(func() time.Time { return night }))
		ev := baseEvent()
		ev.ExplicitRecipients = []string{"u1"}
		ev.Channels = []notification.Channel{notification.ChannelInApp}

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Nil(t, got[0].DeferUntil)
	})

	t.Run("urgent bypasses quiet hours", func(t *testing.T) {
		t.Parallel()

		r := New(newPrefs(t), nil, nil, WithClock(func() time.Time { return night }))
		ev := baseEvent()
		ev.ExplicitRecipients = []string{"u1"}
		ev.Priority = notification.PriorityUrgent

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Nil(t, got[0].DeferUntil)
	})

	t.Run("outside the window nothing is deferred", func(t *testing.T) {
		t.Parallel()

		noon := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		r := New(newPrefs(t), nil, nil, WithClock(func() time.Time { return noon }))
		ev := baseEvent()
		ev.ExplicitRecipients = []string{"u1"}

		got, err := r.Resolve(ctx, ev)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Nil(t, got[0].DeferUntil)
	})
}

type brokenStore struct{}

func (brokenStore) Incr(ctx context.Context, key sendlimit.Key, now time.Time) (sendlimit.Counts, error) {
	return sendlimit.Counts{}, errors.New("backend down")
}

func (brokenStore) Peek(ctx context.Context, key sendlimit.Key, now time.Time) (sendlimit.Counts, error) {
	return sendlimit.Counts{}, errors.New("backend down")
}

func (brokenStore) Reset(ctx context.Context, key sendlimit.Key) error {
	return errors.New("backend down")
}
