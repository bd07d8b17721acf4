package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("generates id and defaults", func(t *testing.T) {
		t.Parallel()

		svc := NewService(NewMemoryStorage())
		id, err := svc.Create(ctx, Record{
			UserID:    "u1",
			TenantID:  "t1",
			Module:    "sales_orders",
			EventType: "order_created",
			Title:     "Order created",
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		rec, err := svc.Get(ctx, "u1", id)
		require.NoError(t, err)
		assert.Equal(t, []Channel{ChannelInApp}, rec.Channels, "in-app is the default channel")
		assert.False(t, rec.CreatedAt.IsZero())
	})

	t.Run("keeps caller supplied id", func(t *testing.T) {
		t.Parallel()

		svc := NewService(NewMemoryStorage())
		id, err := svc.Create(ctx, func() Record {
			r := newTestRecord("legacy-42", "u1")
			return r
		}())
		require.NoError(t, err)
		assert.Equal(t, "legacy-42", id)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		svc := NewService(NewMemoryStorage())

		_, err := svc.Create(ctx, Record{TenantID: "t1", Title: "x"})
		assert.ErrorIs(t, err, ErrMissingUserID)

		_, err = svc.Create(ctx, Record{UserID: "u1", Title: "x"})
		assert.ErrorIs(t, err, ErrMissingTenantID)

		_, err = svc.Create(ctx, Record{UserID: "u1", TenantID: "t1"})
		assert.ErrorIs(t, err, ErrMissingTitle)

		_, err = svc.Create(ctx, Record{
			UserID: "u1", TenantID: "t1", Title: "x",
			Channels: []Channel{"fax"},
		})
		assert.ErrorIs(t, err, ErrInvalidChannel)
	})
}

func TestService_MarkRead_Authorization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := NewService(NewMemoryStorage())
	id, err := svc.Create(ctx, newTestRecord("", "u1"))
	require.NoError(t, err)

	// Cross-user mutation rejected synchronously, no state change.
	err = svc.MarkRead(ctx, "u2", id)
	assert.ErrorIs(t, err, ErrNotOwner)

	rec, err := svc.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.False(t, rec.Read)

	require.NoError(t, svc.MarkRead(ctx, "u1", id))
	rec, err = svc.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, rec.Read)
	assert.NotNil(t, rec.ReadAt)
}

func TestService_MarkRead_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := NewService(NewMemoryStorage())
	id, err := svc.Create(ctx, newTestRecord("", "u1"))
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, "u1", id))
	first, err := svc.Get(ctx, "u1", id)
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, "u1", id))
	second, err := svc.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, *first.ReadAt, *second.ReadAt, "re-read must not move the timestamp")
}

func TestService_MarkAllRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := NewService(NewMemoryStorage())
	for range 3 {
		_, err := svc.Create(ctx, newTestRecord("", "u1"))
		require.NoError(t, err)
	}

	require.NoError(t, svc.MarkAllRead(ctx, "u1"))

	n, err := svc.CountUnread(ctx, "u1", "")
	require.NoError(t, err)
	assert.Zero(t, n)

	// No unread records left; calling again is a no-op.
	require.NoError(t, svc.MarkAllRead(ctx, "u1"))
}

func TestService_Dismiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := NewService(NewMemoryStorage())
	id, err := svc.Create(ctx, newTestRecord("", "u1"))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Dismiss(ctx, "u2", id), ErrNotOwner)
	require.NoError(t, svc.Dismiss(ctx, "u1", id))

	rec, err := svc.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, rec.Dismissed)
	assert.NotNil(t, rec.DismissedAt)

	n, err := svc.CountUnread(ctx, "u1", "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_Get_NotOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := NewService(NewMemoryStorage())
	id, err := svc.Create(ctx, newTestRecord("", "u1"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "u2", id)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.Get(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
