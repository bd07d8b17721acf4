package delivery

import (
	"context"
	"time"
)

// Storage handles delivery attempt persistence.
type Storage interface {
	// Create stores a new attempt. Returns ErrDuplicateChannel when the
	// notification already has an attempt for the channel.
	Create(ctx context.Context, att Attempt) error

	// Get retrieves an attempt by ID.
	Get(ctx context.Context, id string) (*Attempt, error)

	// GetByProviderRef retrieves the attempt correlated with a provider
	// callback via (provider, provider_message_id).
	GetByProviderRef(ctx context.Context, provider, providerMessageID string) (*Attempt, error)

	// ListByNotification returns all attempts for a notification.
	ListByNotification(ctx context.Context, notificationID string) ([]Attempt, error)

	// Update persists a modified attempt. Implementations compare the
	// attempt's Version against the stored one and return
	// ErrVersionConflict on mismatch, incrementing it on success.
	Update(ctx context.Context, att Attempt) error

	// ListDispatchable returns up to limit pending attempts whose
	// ScheduledFor is unset or has passed, oldest first.
	ListDispatchable(ctx context.Context, now time.Time, limit int) ([]Attempt, error)

	// ListRetryable returns up to limit failed attempts that still have
	// retry budget, oldest first.
	ListRetryable(ctx context.Context, limit int) ([]Attempt, error)

	// Stats aggregates attempt counts for the metrics surface.
	Stats(ctx context.Context, q StatsQuery) (Stats, error)

	// PurgeOlderThan removes attempts created before the cutoff.
	// Used by retention jobs only.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// StatsQuery scopes a Stats aggregation. Zero-valued fields are not
// filtered on.
type StatsQuery struct {
	TenantID string
	Module   string
	Channel  string
	From     time.Time
	To       time.Time
}

// Stats holds raw attempt counts for a query scope.
type Stats struct {
	Total     int
	Sent      int
	Delivered int
	Failed    int
	Bounced   int
	Rejected  int
	Opened    int // attempts with at least one open
	Clicked   int // attempts with at least one click
}
