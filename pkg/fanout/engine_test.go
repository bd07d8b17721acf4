package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/fanout"
	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/preference"
	"github.com/opsbase/notify/pkg/resolver"
)

type staticDirectory map[string][]string

func (d staticDirectory) ActiveMembers(ctx context.Context, tenantID, role string) ([]string, error) {
	return d[role], nil
}

type fixture struct {
	engine   *fanout.Engine
	prefs    *preference.MemoryStore
	records  *notification.Service
	attempts delivery.Storage
}

func newFixture(t *testing.T, rules *resolver.MemoryRuleSource, dir resolver.RoleDirectory, opts ...resolver.ResolverOption) *fixture {
	t.Helper()

	prefs := preference.NewMemoryStore()
	records := notification.NewService(notification.NewMemoryStorage())
	attempts := delivery.NewMemoryStorage()
	tracker := delivery.NewTracker(attempts, records)

	res := resolver.New(prefs, rules, dir, opts...)
	return &fixture{
		engine:   fanout.New(res, records, tracker),
		prefs:    prefs,
		records:  records,
		attempts: attempts,
	}
}

func TestEngine_SingleExplicitRecipient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, nil, nil)
	require.NoError(t, f.prefs.Upsert(ctx, preference.Preference{
		UserID: "u1", TenantID: "t1", Module: "sales_orders",
		Channels: map[notification.Channel]bool{
			notification.ChannelInApp: true,
			notification.ChannelEmail: false,
		},
	}))

	receipts, err := f.engine.Announce(ctx, resolver.Event{
		TenantID:           "t1",
		Module:             "sales_orders",
		EventType:          "order_created",
		ExplicitRecipients: []string{"u1"},
		Title:              "Order created",
		Channels:           []notification.Channel{notification.ChannelInApp, notification.ChannelEmail},
	})
	require.NoError(t, err)
	require.Len(t, receipts, 1)

	// Exactly one record for u1, on the in-app channel only.
	recs, err := f.records.List(ctx, "u1", notification.ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []notification.Channel{notification.ChannelInApp}, recs[0].Channels)

	// Exactly one pending attempt, channel in_app.
	atts, err := f.attempts.ListByNotification(ctx, receipts[0].NotificationID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, notification.ChannelInApp, atts[0].Channel)
	assert.Equal(t, delivery.StatusPending, atts[0].Status)
	assert.Nil(t, atts[0].ScheduledFor)
}

func TestEngine_RoleFanOutDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rules := resolver.NewMemoryRuleSource(resolver.RoleRule{
		Role: "manager", Module: "sales_orders", EventType: "status_changed",
		Enabled: true, AutoFollow: true,
	})
	dir := staticDirectory{"manager": {"u1", "u2"}}

	f := newFixture(t, rules, dir)
	receipts, err := f.engine.Announce(ctx, resolver.Event{
		TenantID:           "t1",
		Module:             "sales_orders",
		EventType:          "status_changed",
		ExplicitRecipients: []string{"u1"}, // assignee, also a manager
		Title:              "Order status changed",
	})
	require.NoError(t, err)
	require.Len(t, receipts, 2, "two managers with one explicit overlap make two records, not three")

	for _, userID := range []string{"u1", "u2"} {
		recs, err := f.records.List(ctx, userID, notification.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, recs, 1, "user %s gets exactly one record", userID)
	}
	assert.Equal(t, resolver.ReasonExplicit, receipts[0].Reason)
	assert.Equal(t, resolver.ReasonAutoRole, receipts[1].Reason)
}

func TestEngine_QuietHoursScheduleAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	night := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)

	f := newFixture(t, nil, nil, resolver.WithClock(func() time.Time { return night }))
	require.NoError(t, f.prefs.Upsert(ctx, preference.Preference{
		UserID: "u1", TenantID: "t1", Module: "crm",
		QuietHours: &preference.QuietWindow{Start: "22:00", End: "07:00"},
	}))

	receipts, err := f.engine.Announce(ctx, resolver.Event{
		TenantID:           "t1",
		Module:             "crm",
		EventType:          "message_received",
		ExplicitRecipients: []string{"u1"},
		Title:              "New message",
		Channels:           []notification.Channel{notification.ChannelInApp, notification.ChannelEmail},
	})
	require.NoError(t, err)
	require.Len(t, receipts, 1)

	atts, err := f.attempts.ListByNotification(ctx, receipts[0].NotificationID)
	require.NoError(t, err)
	require.Len(t, atts, 2)

	wantEnd := time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)
	for _, att := range atts {
		switch att.Channel {
		case notification.ChannelInApp:
			assert.Nil(t, att.ScheduledFor, "in-app is never deferred")
		case notification.ChannelEmail:
			require.NotNil(t, att.ScheduledFor, "external channel is deferred, not dropped")
			assert.Equal(t, wantEnd, *att.ScheduledFor)
		}
		assert.Equal(t, delivery.StatusPending, att.Status)
	}
}

func TestEngine_EntityAndPayloadCarried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, nil, nil)
	receipts, err := f.engine.Announce(ctx, resolver.Event{
		TenantID:           "t1",
		Module:             "fleet",
		EventType:          "status_changed",
		EntityType:         "vehicle",
		EntityID:           "v42",
		ExplicitRecipients: []string{"u1"},
		Title:              "Vehicle needs approval",
		Payload:            map[string]any{"status": "needs_approval"},
		CreatedBy:          "system",
	})
	require.NoError(t, err)
	require.Len(t, receipts, 1)

	rec, err := f.records.Get(ctx, "u1", receipts[0].NotificationID)
	require.NoError(t, err)
	require.NotNil(t, rec.Entity)
	assert.Equal(t, "vehicle", rec.Entity.Type)
	assert.Equal(t, "v42", rec.Entity.ID)
	assert.Equal(t, "needs_approval", rec.Data["status"])
	assert.Equal(t, "system", rec.CreatedBy)
}

func TestEngine_InvalidEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	_, err := f.engine.Announce(context.Background(), resolver.Event{EventType: "x"})
	assert.ErrorIs(t, err, resolver.ErrMissingTenantID)
}
