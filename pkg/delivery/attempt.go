package delivery

import (
	"time"

	"github.com/opsbase/notify/pkg/notification"
)

// Status represents the per-channel delivery lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	// StatusFailed is a transient failure, retryable until the retry cap.
	StatusFailed Status = "failed"
	// StatusBounced is a permanent failure: the recipient address is invalid.
	StatusBounced Status = "bounced"
	// StatusRejected is a permanent failure: the provider refused the content.
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further lifecycle transition is possible.
// Failed is terminal only once retries are exhausted, which depends on
// the attempt, so it is not included here.
func (s Status) Terminal() bool {
	return s == StatusBounced || s == StatusRejected
}

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed, StatusBounced, StatusRejected:
		return true
	}
	return false
}

// DefaultMaxRetries is used when an attempt is created without an
// explicit retry cap.
const DefaultMaxRetries = 3

// Attempt is one delivery of a notification over one channel. Rows are
// append-only: they are mutated by lifecycle transitions and engagement
// callbacks but never deleted outside retention jobs.
type Attempt struct {
	ID             string               `json:"id"`
	NotificationID string               `json:"notification_id"`
	TenantID       string               `json:"tenant_id"`
	UserID         string               `json:"user_id"`
	Module         string               `json:"module"`
	Channel        notification.Channel `json:"channel"`

	Provider string `json:"provider,omitempty"`
	// ProviderMessageID correlates inbound provider callbacks with this
	// attempt. Empty until the transport collaborator reports a send.
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	Status       Status `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`

	// Engagement is layered on top of delivery, not a lifecycle state.
	OpenedAt   *time.Time `json:"opened_at,omitempty"`
	OpenedBy   string     `json:"opened_by,omitempty"`
	OpenCount  int        `json:"open_count"`
	ClickedAt  *time.Time `json:"clicked_at,omitempty"`
	ClickedBy  string     `json:"clicked_by,omitempty"`
	ClickCount int        `json:"click_count"`
	ClickedURL string     `json:"clicked_url,omitempty"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	// Latencies are derived exactly once, on the first transition that
	// fills the corresponding timestamp.
	SendLatency     time.Duration `json:"send_latency,omitempty"`
	DeliveryLatency time.Duration `json:"delivery_latency,omitempty"`

	// Snapshots taken at dispatch time so later preference or profile
	// changes do not rewrite history.
	RecipientAddress string         `json:"recipient_address,omitempty"`
	Content          string         `json:"content,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	// ScheduledFor defers dispatch, set when the recipient was inside
	// their quiet window at resolution time.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Version guards concurrent updates (optimistic concurrency).
	Version int64 `json:"-"`
}

// RetriesExhausted reports whether a failed attempt may no longer be retried.
func (a *Attempt) RetriesExhausted() bool {
	return a.RetryCount >= a.MaxRetries
}
