package notification

import (
	"context"
	"time"
)

// Storage handles notification record persistence and retrieval.
type Storage interface {
	// Create stores a new record. It returns ErrDuplicateID when a record
	// with the same ID already exists (the replication bridge relies on this).
	Create(ctx context.Context, rec Record) error

	// Get retrieves a single record by ID regardless of owner.
	// Callers enforce ownership.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns records for a user, newest first.
	List(ctx context.Context, userID string, opts ListOptions) ([]Record, error)

	// ListThread returns all records of a user sharing a thread key,
	// ordered by creation time ascending.
	ListThread(ctx context.Context, userID, threadID string) ([]Record, error)

	// MarkRead marks the user's records as read. Records not owned by
	// the user are left untouched. Already-read records keep their
	// original read timestamp.
	MarkRead(ctx context.Context, userID string, ids ...string) error

	// Dismiss marks the user's records as dismissed.
	Dismiss(ctx context.Context, userID string, ids ...string) error

	// CountUnread returns the unread, non-dismissed count for a user.
	// Pass an empty tenantID to count across all tenants.
	CountUnread(ctx context.Context, userID, tenantID string) (int, error)

	// SetChannelStatus updates the denormalized per-channel rollup.
	// Implementations must be safe against concurrent transitions for
	// different channels of the same record (atomic read-modify-write
	// or optimistic retry).
	SetChannelStatus(ctx context.Context, id string, ch Channel, status string) error

	// PurgeOlderThan removes records created before the cutoff.
	// Used by retention jobs only.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ListOptions provides filtering and pagination for listing records.
type ListOptions struct {
	Limit            int        // Maximum number of records to return (0 = no limit)
	Offset           int        // Number of records to skip for pagination
	OnlyUnread       bool       // When true, only return unread records
	Module           string     // If set, only return records from this module
	Priorities       []Priority // If set, only return records with these priorities
	Since            *time.Time // If set, only return records created after this time
	IncludeDismissed bool       // Dismissed records are hidden unless set
}
