package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/logger"
	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/resolver"
)

// Receipt reports the records and attempts created for one recipient.
type Receipt struct {
	UserID         string                          `json:"user_id"`
	NotificationID string                          `json:"notification_id"`
	AttemptIDs     map[notification.Channel]string `json:"attempt_ids,omitempty"`
	Reason         resolver.Reason                 `json:"reason"`
	Demoted        bool                            `json:"demoted,omitempty"`
}

// Engine expands an announced domain event into per-recipient
// notification records and per-channel pending delivery attempts.
// Record creation is synchronous so the caller observes the records
// before its own transaction completes; transport I/O never happens
// here, the dispatcher picks pending attempts up asynchronously.
type Engine struct {
	resolver *resolver.Resolver
	records  *notification.Service
	tracker  *delivery.Tracker
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger for the Engine.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates a fan-out engine over the given resolver, record service
// and delivery tracker.
func New(res *resolver.Resolver, records *notification.Service, tracker *delivery.Tracker, opts ...EngineOption) *Engine {
	e := &Engine{
		resolver: res,
		records:  records,
		tracker:  tracker,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Announce fans the event out: one record per resolved recipient, one
// pending attempt per (record, channel). Returns an error only for an
// invalid event; per-recipient failures are isolated and logged so one
// broken recipient never aborts the rest of the batch or the caller's
// transaction.
func (e *Engine) Announce(ctx context.Context, ev resolver.Event) ([]Receipt, error) {
	resolutions, err := e.resolver.Resolve(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	receipts := make([]Receipt, 0, len(resolutions))
	for _, res := range resolutions {
		receipt, err := e.materialize(ctx, ev, res)
		if err != nil {
			e.logger.LogAttrs(ctx, slog.LevelError, "failed to create notification for recipient, skipping",
				logger.TenantID(ev.TenantID),
				logger.UserID(res.UserID),
				logger.EventType(ev.EventType),
				logger.Error(err),
			)
			continue
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// materialize stores the record and its channel attempts for one
// resolution. Deferred channels get a scheduled attempt instead of an
// immediately dispatchable one; in-app is never deferred.
func (e *Engine) materialize(ctx context.Context, ev resolver.Event, res resolver.Resolution) (Receipt, error) {
	rec := notification.Record{
		UserID:      res.UserID,
		TenantID:    ev.TenantID,
		Module:      ev.Module,
		EventType:   ev.EventType,
		Title:       ev.Title,
		Message:     ev.Message,
		ActionURL:   ev.ActionURL,
		ActionLabel: ev.ActionLabel,
		Priority:    ev.Priority,
		Channels:    res.Channels,
		ThreadID:    ev.ThreadID,
		ScheduledAt: res.DeferUntil,
		CreatedBy:   ev.CreatedBy,
		Data:        ev.Payload,
	}
	if ev.EntityType != "" || ev.EntityID != "" {
		rec.Entity = &notification.EntityRef{Type: ev.EntityType, ID: ev.EntityID}
	}

	id, err := e.records.Create(ctx, rec)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to create record: %w", err)
	}

	receipt := Receipt{
		UserID:         res.UserID,
		NotificationID: id,
		AttemptIDs:     make(map[notification.Channel]string, len(res.Channels)),
		Reason:         res.Reason,
		Demoted:        res.Demoted,
	}

	for _, ch := range res.Channels {
		att := delivery.Attempt{
			NotificationID: id,
			TenantID:       ev.TenantID,
			UserID:         res.UserID,
			Module:         ev.Module,
			Channel:        ch,
		}
		if ch != notification.ChannelInApp {
			att.ScheduledFor = res.DeferUntil
		}

		attID, err := e.tracker.CreateAttempt(ctx, att)
		if err != nil {
			// The record already exists; a missing channel attempt
			// degrades that channel only.
			e.logger.LogAttrs(ctx, slog.LevelError, "failed to create delivery attempt",
				logger.NotificationID(id),
				logger.UserID(res.UserID),
				logger.Channel(string(ch)),
				logger.Error(err),
			)
			continue
		}
		receipt.AttemptIDs[ch] = attID
	}
	return receipt, nil
}
