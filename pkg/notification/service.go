package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsbase/notify/pkg/logger"
)

// Service owns the notification record lifecycle: creation on behalf of
// the resolver or the replication bridge, the read/dismiss lifecycle,
// unread counters and thread retrieval. All user-facing mutations are
// authorized to the owning user only.
type Service struct {
	storage Storage
	logger  *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger for the Service.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a new notification record service.
func NewService(storage Storage, opts ...ServiceOption) *Service {
	s := &Service{
		storage: storage,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores a new record, generating an ID when the
// caller did not supply one (the replication bridge supplies the shared
// legacy identifier). Returns the record ID.
func (s *Service) Create(ctx context.Context, rec Record) (string, error) {
	if rec.UserID == "" {
		return "", ErrMissingUserID
	}
	if rec.TenantID == "" {
		return "", ErrMissingTenantID
	}
	if rec.Title == "" {
		return "", ErrMissingTitle
	}
	for _, ch := range rec.Channels {
		if !ch.Valid() {
			return "", fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if len(rec.Channels) == 0 {
		rec.Channels = []Channel{ChannelInApp}
	}

	if err := s.storage.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to store notification: %w", err)
	}
	return rec.ID, nil
}

// Get returns a record if it belongs to the user.
func (s *Service) Get(ctx context.Context, userID, id string) (*Record, error) {
	rec, err := s.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrNotOwner
	}
	return rec, nil
}

// List returns the user's records, newest first.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) ([]Record, error) {
	return s.storage.List(ctx, userID, opts)
}

// ListThread returns the user's records sharing a thread key, ordered
// by creation time.
func (s *Service) ListThread(ctx context.Context, userID, threadID string) ([]Record, error) {
	return s.storage.ListThread(ctx, userID, threadID)
}

// MarkRead marks a single record as read. Re-marking an already-read
// record is a no-op. Cross-user attempts are rejected with ErrNotOwner.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	rec, err := s.storage.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return ErrNotOwner
	}
	return s.storage.MarkRead(ctx, userID, id)
}

// MarkManyRead marks a batch of the user's records as read. IDs that do
// not belong to the user are left untouched rather than failing the batch.
func (s *Service) MarkManyRead(ctx context.Context, userID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.storage.MarkRead(ctx, userID, ids...)
}

// MarkAllRead marks all of the user's unread records as read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	records, err := s.storage.List(ctx, userID, ListOptions{OnlyUnread: true})
	if err != nil {
		return err
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if len(ids) > 0 {
		return s.storage.MarkRead(ctx, userID, ids...)
	}
	return nil
}

// Dismiss removes a record from the user's unread totals. In-flight
// channel deliveries are never retracted.
func (s *Service) Dismiss(ctx context.Context, userID, id string) error {
	rec, err := s.storage.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return ErrNotOwner
	}
	return s.storage.Dismiss(ctx, userID, id)
}

// CountUnread returns the user's unread count, optionally scoped to a tenant.
func (s *Service) CountUnread(ctx context.Context, userID, tenantID string) (int, error) {
	return s.storage.CountUnread(ctx, userID, tenantID)
}

// SetChannelStatus updates the denormalized per-channel rollup on a
// record. Called by the delivery tracker on every transition; failures
// are logged by the caller and never abort the transition itself.
func (s *Service) SetChannelStatus(ctx context.Context, id string, ch Channel, status string) error {
	return s.storage.SetChannelStatus(ctx, id, ch, status)
}

// PurgeOlderThan removes records created before the cutoff. Retention jobs only.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.storage.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "purged notifications past retention",
			slog.Int("purged", n),
			logger.Component("notification"),
		)
	}
	return n, nil
}

// Storage returns the underlying record storage.
func (s *Service) Storage() Storage {
	return s.storage
}
