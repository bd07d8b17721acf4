package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsbase/notify/pkg/logger"
	"github.com/opsbase/notify/pkg/notification"
)

// RollupStore receives denormalized per-channel status updates for the
// parent notification record. Satisfied by notification.Service.
type RollupStore interface {
	SetChannelStatus(ctx context.Context, notificationID string, ch notification.Channel, status string) error
}

// Callback is a delivery result reported by the transport collaborator,
// correlated with an attempt via (provider, provider_message_id).
type Callback struct {
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	// Actor identifies who opened or clicked, for engagement callbacks.
	Actor      string `json:"actor,omitempty"`
	ClickedURL string `json:"clicked_url,omitempty"`
}

// updateRetries bounds the optimistic-concurrency retry loop. Channel
// transitions for one attempt are rare, so conflicts resolve quickly.
const updateRetries = 3

// Tracker owns the per-channel delivery state machine: lifecycle
// transitions, provider correlation, retry accounting, engagement
// counters and the denormalized rollup on the parent record.
type Tracker struct {
	storage Storage
	rollup  RollupStore
	logger  *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the logger for the Tracker.
func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = l
	}
}

// NewTracker creates a new delivery tracker. A nil rollup disables
// rollup propagation.
func NewTracker(storage Storage, rollup RollupStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		storage: storage,
		rollup:  rollup,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateAttempt stores a new pending attempt for a (notification, channel)
// pair and seeds the parent rollup. Returns the attempt ID.
func (t *Tracker) CreateAttempt(ctx context.Context, att Attempt) (string, error) {
	if att.NotificationID == "" {
		return "", fmt.Errorf("notification id is required")
	}
	if !att.Channel.Valid() {
		return "", fmt.Errorf("invalid channel %q", att.Channel)
	}

	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	if att.Status == "" {
		att.Status = StatusPending
	}
	if att.MaxRetries == 0 {
		att.MaxRetries = DefaultMaxRetries
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now()
	}

	if err := t.storage.Create(ctx, att); err != nil {
		return "", fmt.Errorf("failed to store delivery attempt: %w", err)
	}

	t.propagateRollup(ctx, att)
	return att.ID, nil
}

// MarkSent records the dispatch handoff result: the provider
// correlation key and the transition into sent.
func (t *Tracker) MarkSent(ctx context.Context, id, provider, providerMessageID string, at time.Time) error {
	return t.update(ctx, id, func(att *Attempt) error {
		att.Provider = provider
		att.ProviderMessageID = providerMessageID
		return applySent(att, at)
	})
}

// MarkFailed records a dispatch failure reported synchronously by the
// transport collaborator, counting it against the retry budget.
func (t *Tracker) MarkFailed(ctx context.Context, id, errorCode, errorMessage string) error {
	return t.update(ctx, id, func(att *Attempt) error {
		return applyFailure(att, StatusFailed, errorCode, errorMessage)
	})
}

// MarkRejected records a permanent synchronous rejection from the
// transport collaborator. Rejected is terminal; no retry follows.
func (t *Tracker) MarkRejected(ctx context.Context, id, errorCode, errorMessage string) error {
	return t.update(ctx, id, func(att *Attempt) error {
		return applyFailure(att, StatusRejected, errorCode, errorMessage)
	})
}

// RecordCallback applies an inbound provider callback to the attempt it
// correlates with. Out-of-order callbacks backfill skipped states
// rather than being discarded; callbacks for terminal attempts are
// logged and ignored.
func (t *Tracker) RecordCallback(ctx context.Context, cb Callback) error {
	att, err := t.storage.GetByProviderRef(ctx, cb.Provider, cb.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("failed to correlate callback: %w", err)
	}

	return t.update(ctx, att.ID, func(att *Attempt) error {
		if att.Status.Terminal() && !isEngagement(cb.Status) {
			t.logger.LogAttrs(ctx, slog.LevelDebug, "callback for terminal attempt ignored",
				logger.AttemptID(att.ID),
				slog.String("callback_status", cb.Status),
				slog.String("status", string(att.Status)),
			)
			return nil
		}

		switch cb.Status {
		case "sent":
			return applySent(att, cb.Timestamp)
		case "delivered":
			return applyDelivered(att, cb.Timestamp)
		case "failed":
			return applyFailure(att, StatusFailed, cb.ErrorCode, cb.ErrorMessage)
		case "bounced":
			return applyFailure(att, StatusBounced, cb.ErrorCode, cb.ErrorMessage)
		case "rejected":
			return applyFailure(att, StatusRejected, cb.ErrorCode, cb.ErrorMessage)
		case "opened":
			return applyOpened(att, cb.Timestamp, cb.Actor)
		case "clicked":
			return applyClicked(att, cb.Timestamp, cb.Actor, cb.ClickedURL)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownCallbackStatus, cb.Status)
		}
	})
}

// Retry returns a failed attempt to pending for another dispatch pass.
// Exhausted attempts stay frozen in failed and terminal attempts are
// rejected outright.
func (t *Tracker) Retry(ctx context.Context, id string) error {
	return t.update(ctx, id, func(att *Attempt) error {
		if att.Status.Terminal() {
			return NewInvalidTransitionError(att.Status, StatusPending)
		}
		return transition(att, StatusPending)
	})
}

// Get returns an attempt by ID.
func (t *Tracker) Get(ctx context.Context, id string) (*Attempt, error) {
	return t.storage.Get(ctx, id)
}

// ListByNotification returns all attempts for a notification.
func (t *Tracker) ListByNotification(ctx context.Context, notificationID string) ([]Attempt, error) {
	return t.storage.ListByNotification(ctx, notificationID)
}

// Storage returns the underlying attempt storage.
func (t *Tracker) Storage() Storage {
	return t.storage
}

// update runs mutate inside an optimistic-concurrency retry loop and
// propagates the rollup on success.
func (t *Tracker) update(ctx context.Context, id string, mutate func(*Attempt) error) error {
	var lastErr error
	for range updateRetries {
		att, err := t.storage.Get(ctx, id)
		if err != nil {
			return err
		}

		if err := mutate(att); err != nil {
			return err
		}

		if err := t.storage.Update(ctx, *att); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}

		t.propagateRollup(ctx, *att)
		return nil
	}
	return lastErr
}

// propagateRollup mirrors the attempt status onto the parent record.
// Best effort: a rollup failure never aborts the transition itself.
func (t *Tracker) propagateRollup(ctx context.Context, att Attempt) {
	if t.rollup == nil {
		return
	}
	if err := t.rollup.SetChannelStatus(ctx, att.NotificationID, att.Channel, string(att.Status)); err != nil {
		t.logger.LogAttrs(ctx, slog.LevelWarn, "failed to update channel rollup",
			logger.NotificationID(att.NotificationID),
			logger.Channel(string(att.Channel)),
			logger.Error(err),
		)
	}
}

func applySent(att *Attempt, at time.Time) error {
	if err := transition(att, StatusSent); err != nil {
		return err
	}
	if att.SentAt == nil {
		ts := at
		att.SentAt = &ts
		att.SendLatency = ts.Sub(att.CreatedAt)
	}
	return nil
}

// applyDelivered backfills sent when the delivered callback arrived
// first, so out-of-order provider reports are never discarded.
func applyDelivered(att *Attempt, at time.Time) error {
	if att.Status == StatusPending {
		if err := applySent(att, at); err != nil {
			return err
		}
	}
	if err := transition(att, StatusDelivered); err != nil {
		return err
	}
	if att.DeliveredAt == nil {
		ts := at
		if att.SentAt != nil && ts.Before(*att.SentAt) {
			ts = *att.SentAt
		}
		att.DeliveredAt = &ts
		if att.SentAt != nil {
			att.DeliveryLatency = ts.Sub(*att.SentAt)
		}
	}
	return nil
}

func applyFailure(att *Attempt, to Status, errorCode, errorMessage string) error {
	// A repeated failure report on an already-failed attempt is a
	// duplicate, not a new attempt: keep the latest error detail but
	// do not consume another retry.
	wasFailed := att.Status == StatusFailed
	if err := transition(att, to); err != nil {
		return err
	}
	att.ErrorCode = errorCode
	att.ErrorMessage = errorMessage
	if to == StatusFailed && !wasFailed {
		att.RetryCount++
	}
	return nil
}

// applyOpened records engagement. The first open sets the timestamp;
// later opens only increment the counter. An open for a not-yet
// delivered attempt implies delivery and backfills it.
func applyOpened(att *Attempt, at time.Time, actor string) error {
	if att.Status != StatusDelivered {
		if err := applyDelivered(att, at); err != nil {
			return err
		}
	}
	if att.OpenedAt == nil {
		ts := at
		att.OpenedAt = &ts
		att.OpenedBy = actor
	}
	att.OpenCount++
	return nil
}

func applyClicked(att *Attempt, at time.Time, actor, url string) error {
	// A click implies an open.
	if err := applyOpened(att, at, actor); err != nil {
		return err
	}
	if att.ClickedAt == nil {
		ts := at
		att.ClickedAt = &ts
		att.ClickedBy = actor
		att.ClickedURL = url
	}
	att.ClickCount++
	return nil
}

func isEngagement(status string) bool {
	return status == "opened" || status == "clicked"
}
