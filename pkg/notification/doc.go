// Package notification owns the canonical notification record: one row
// per (event, target user), with the read/unread/dismiss lifecycle,
// thread grouping and the denormalized per-channel delivery rollup.
//
// Records are created by the recipient resolver during fan-out and by
// the replication bridge when mirroring legacy writes; both paths share
// the same identifier space so the representations correlate 1:1.
//
// # Basic Usage
//
//	storage := notification.NewMemoryStorage()
//	svc := notification.NewService(storage)
//
//	id, err := svc.Create(ctx, notification.Record{
//	    UserID:    "u1",
//	    TenantID:  "t1",
//	    Module:    "sales_orders",
//	    EventType: "order_created",
//	    Title:     "Order #1042 created",
//	    Channels:  []notification.Channel{notification.ChannelInApp},
//	})
//
// Mutations (MarkRead, Dismiss) are authorized to the owning user only
// and are idempotent: re-marking an already-read record neither errors
// nor moves the original read timestamp.
//
// For production use, replace MemoryStorage with the pgx-backed
// implementation in pkg/postgres.
package notification
