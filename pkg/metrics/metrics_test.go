package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/metrics"
	"github.com/opsbase/notify/pkg/notification"
)

func seedAttempt(t *testing.T, storage delivery.Storage, id string, mutate func(*delivery.Attempt)) {
	t.Helper()

	att := delivery.Attempt{
		ID:             id,
		NotificationID: "n-" + id,
		TenantID:       "t1",
		UserID:         "u1",
		Module:         "sales_orders",
		Channel:        notification.ChannelEmail,
		Status:         delivery.StatusPending,
		MaxRetries:     delivery.DefaultMaxRetries,
		CreatedAt:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(&att)
	}
	require.NoError(t, storage.Create(context.Background(), att))
}

func TestReporter_Report(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage := delivery.NewMemoryStorage()
	sentAt := time.Date(2025, 3, 10, 9, 1, 0, 0, time.UTC)
	deliveredAt := sentAt.Add(time.Minute)

	// Four email attempts: two delivered (one opened and clicked), one
	// sent, one bounced.
	seedAttempt(t, storage, "a1", func(a *delivery.Attempt) {
		a.Status = delivery.StatusDelivered
		a.SentAt = &sentAt
		a.DeliveredAt = &deliveredAt
		a.OpenCount = 2
		a.ClickCount = 1
	})
	seedAttempt(t, storage, "a2", func(a *delivery.Attempt) {
		a.Status = delivery.StatusDelivered
		a.SentAt = &sentAt
		a.DeliveredAt = &deliveredAt
	})
	seedAttempt(t, storage, "a3", func(a *delivery.Attempt) {
		a.Status = delivery.StatusSent
		a.SentAt = &sentAt
	})
	seedAttempt(t, storage, "a4", func(a *delivery.Attempt) {
		a.Status = delivery.StatusBounced
	})
	// One in-app attempt in another module.
	seedAttempt(t, storage, "a5", func(a *delivery.Attempt) {
		a.Module = "crm"
		a.Channel = notification.ChannelInApp
		a.Status = delivery.StatusDelivered
		a.SentAt = &sentAt
		a.DeliveredAt = &deliveredAt
	})

	reporter := metrics.NewReporter(storage)

	t.Run("tenant-wide", func(t *testing.T) {
		t.Parallel()

		sum, err := reporter.Report(ctx, metrics.Query{TenantID: "t1"})
		require.NoError(t, err)

		assert.Equal(t, 5, sum.Total)
		assert.Equal(t, 4, sum.Sent)
		assert.Equal(t, 3, sum.Delivered)
		assert.Equal(t, 1, sum.Bounced)
		assert.InDelta(t, 0.75, sum.DeliveryRate, 1e-9)
		assert.InDelta(t, 1.0/3.0, sum.OpenRate, 1e-9)
		assert.InDelta(t, 1.0/3.0, sum.ClickRate, 1e-9)

		require.Len(t, sum.Channels, 2)
		assert.Equal(t, notification.ChannelInApp, sum.Channels[0].Channel)
		assert.Equal(t, notification.ChannelEmail, sum.Channels[1].Channel)
		assert.Equal(t, 4, sum.Channels[1].Total)
		assert.InDelta(t, 2.0/3.0, sum.Channels[1].DeliveryRate, 1e-9)
	})

	t.Run("module scope", func(t *testing.T) {
		t.Parallel()

		sum, err := reporter.Report(ctx, metrics.Query{TenantID: "t1", Module: "crm"})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Total)
		require.Len(t, sum.Channels, 1)
		assert.Equal(t, notification.ChannelInApp, sum.Channels[0].Channel)
	})

	t.Run("date range excludes outside attempts", func(t *testing.T) {
		t.Parallel()

		sum, err := reporter.Report(ctx, metrics.Query{
			TenantID: "t1",
			From:     time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, sum.Total)
		assert.Zero(t, sum.DeliveryRate)
		assert.Empty(t, sum.Channels)
	})

	t.Run("tenant required", func(t *testing.T) {
		t.Parallel()

		_, err := reporter.Report(ctx, metrics.Query{})
		assert.ErrorIs(t, err, metrics.ErrMissingTenantID)
	})
}
