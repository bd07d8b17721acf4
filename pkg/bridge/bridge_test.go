package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsbase/notify/pkg/bridge"
	"github.com/opsbase/notify/pkg/notification"
)

func TestNormalizePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		legacy bridge.LegacyPriority
		want   notification.Priority
	}{
		{bridge.LegacyPriorityLow, notification.PriorityLow},
		{bridge.LegacyPriorityMedium, notification.PriorityNormal},
		{bridge.LegacyPriorityHigh, notification.PriorityHigh},
		{bridge.LegacyPriorityUrgent, notification.PriorityUrgent},
		{"", notification.PriorityNormal},
		{"whatever", notification.PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(string(tt.legacy), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, bridge.NormalizePriority(tt.legacy))
		})
	}
}

func legacyRow(id string) bridge.LegacyNotification {
	return bridge.LegacyNotification{
		ID:        id,
		TenantID:  "t1",
		UserID:    "u1",
		Module:    "sales_orders",
		EventType: "order_created",
		Title:     "Order created",
		Priority:  bridge.LegacyPriorityMedium,
		CreatedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestBridge_Mirror(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates unified record under the legacy id", func(t *testing.T) {
		t.Parallel()

		svc := notification.NewService(notification.NewMemoryStorage())
		b := bridge.New(svc)

		require.True(t, b.Mirror(ctx, legacyRow("legacy-1")))

		rec, err := svc.Get(ctx, "u1", "legacy-1")
		require.NoError(t, err)
		assert.Equal(t, "legacy-1", rec.ID)
		assert.Equal(t, notification.PriorityNormal, rec.Priority)
		assert.Equal(t, []notification.Channel{notification.ChannelInApp}, rec.Channels)
		assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), rec.CreatedAt)
	})

	t.Run("re-mirroring the same id is a silent no-op", func(t *testing.T) {
		t.Parallel()

		svc := notification.NewService(notification.NewMemoryStorage())
		b := bridge.New(svc)

		require.True(t, b.Mirror(ctx, legacyRow("legacy-2")))
		assert.False(t, b.Mirror(ctx, legacyRow("legacy-2")))

		recs, err := svc.List(ctx, "u1", notification.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, recs, 1, "exactly one unified record for the id")
	})

	t.Run("storage failure is swallowed", func(t *testing.T) {
		t.Parallel()

		b := bridge.New(failingCreator{})

		assert.NotPanics(t, func() {
			assert.False(t, b.Mirror(ctx, legacyRow("legacy-3")))
		})
	})

	t.Run("invalid row is swallowed", func(t *testing.T) {
		t.Parallel()

		svc := notification.NewService(notification.NewMemoryStorage())
		b := bridge.New(svc)

		row := legacyRow("legacy-4")
		row.Title = ""
		assert.False(t, b.Mirror(ctx, row))
	})
}

type failingCreator struct{}

func (failingCreator) Create(ctx context.Context, rec notification.Record) (string, error) {
	return "", errors.New("forced constraint violation")
}
