package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opsbase/notify/pkg/logger"
	"github.com/opsbase/notify/pkg/notification"
)

// LegacyPriority is a value on the four-level scale used by the
// per-module notification tables.
type LegacyPriority string

const (
	LegacyPriorityLow    LegacyPriority = "low"
	LegacyPriorityMedium LegacyPriority = "medium"
	LegacyPriorityHigh   LegacyPriority = "high"
	LegacyPriorityUrgent LegacyPriority = "urgent"
)

// NormalizePriority maps the four-level legacy scale onto the unified
// five-level scale. The mapping is total and deterministic: the legacy
// middle level maps to normal, unknown values default to normal, and
// nothing maps to critical unless a caller sets it explicitly.
func NormalizePriority(p LegacyPriority) notification.Priority {
	switch p {
	case LegacyPriorityLow:
		return notification.PriorityLow
	case LegacyPriorityMedium:
		return notification.PriorityNormal
	case LegacyPriorityHigh:
		return notification.PriorityHigh
	case LegacyPriorityUrgent:
		return notification.PriorityUrgent
	}
	return notification.PriorityNormal
}

// LegacyNotification is a row observed in a per-module notification
// table. ID is reused verbatim as the unified record ID so the two
// representations correlate 1:1.
type LegacyNotification struct {
	ID         string
	TenantID   string
	UserID     string
	Module     string
	EventType  string
	EntityType string
	EntityID   string
	Title      string
	Message    string
	ActionURL  string
	Priority   LegacyPriority
	CreatedAt  time.Time
	CreatedBy  string
	Data       map[string]any
}

// RecordCreator is the slice of the unified store the bridge writes
// through. Satisfied by notification.Service.
type RecordCreator interface {
	Create(ctx context.Context, rec notification.Record) (string, error)
}

// Bridge mirrors legacy notification rows into the unified store.
// Mirroring is strictly best effort: no error it encounters is ever
// returned to the code path that produced the original write.
type Bridge struct {
	records RecordCreator
	logger  *slog.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger for the Bridge.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = l
	}
}

// New creates a replication bridge writing through the given creator.
func New(records RecordCreator, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		records: records,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Mirror replicates one legacy row into the unified store under the
// same ID. Idempotent: an already-mirrored ID is detected and skipped.
// Every failure, duplicate or otherwise, is logged and swallowed so
// the legacy insert is never affected. Returns true when a new unified
// record was created.
func (b *Bridge) Mirror(ctx context.Context, legacy LegacyNotification) bool {
	rec := notification.Record{
		ID:        legacy.ID,
		UserID:    legacy.UserID,
		TenantID:  legacy.TenantID,
		Module:    legacy.Module,
		EventType: legacy.EventType,
		Title:     legacy.Title,
		Message:   legacy.Message,
		ActionURL: legacy.ActionURL,
		Priority:  NormalizePriority(legacy.Priority),
		Channels:  []notification.Channel{notification.ChannelInApp},
		CreatedAt: legacy.CreatedAt,
		CreatedBy: legacy.CreatedBy,
		Data:      legacy.Data,
	}
	if legacy.EntityType != "" || legacy.EntityID != "" {
		rec.Entity = &notification.EntityRef{Type: legacy.EntityType, ID: legacy.EntityID}
	}

	if _, err := b.records.Create(ctx, rec); err != nil {
		if errors.Is(err, notification.ErrDuplicateID) {
			b.logger.LogAttrs(ctx, slog.LevelDebug, "legacy notification already mirrored, skipping",
				logger.NotificationID(legacy.ID),
				logger.Module(legacy.Module),
			)
			return false
		}
		b.logger.LogAttrs(ctx, slog.LevelError, "failed to mirror legacy notification",
			logger.NotificationID(legacy.ID),
			logger.TenantID(legacy.TenantID),
			logger.Module(legacy.Module),
			logger.Error(err),
		)
		return false
	}
	return true
}
