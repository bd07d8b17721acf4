package notification

import (
	"time"
)

// Channel represents a delivery channel for a notification.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Valid reports whether the channel is one of the known delivery channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Priority represents the notification priority level on the unified five-level scale.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	case PriorityCritical:
		return "critical"
	}
	return "normal"
}

// ParsePriority converts a string into a Priority.
// Unknown values map to PriorityNormal so that callers never fail on priority alone.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "normal":
		return PriorityNormal
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	case "critical":
		return PriorityCritical
	}
	return PriorityNormal
}

// EntityRef points a notification at the domain entity it is about.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Record is the canonical "a notification was raised" entity,
// one per (event, target user). The ID is shared across replication
// paths so legacy and unified representations correlate 1:1.
type Record struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	TenantID    string             `json:"tenant_id"`
	Module      string             `json:"module"`
	EventType   string             `json:"event_type"`
	Entity      *EntityRef         `json:"entity,omitempty"`
	Title       string             `json:"title"`
	Message     string             `json:"message"`
	ActionURL   string             `json:"action_url,omitempty"`
	ActionLabel string             `json:"action_label,omitempty"`
	Priority    Priority           `json:"priority"`
	Read        bool               `json:"read"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
	Dismissed   bool               `json:"dismissed"`
	DismissedAt *time.Time         `json:"dismissed_at,omitempty"`
	Channels    []Channel          `json:"channels"`
	// ChannelStatus is the denormalized per-channel delivery rollup,
	// maintained by the delivery tracker on every transition.
	ChannelStatus map[Channel]string `json:"channel_status,omitempty"`
	ThreadID      string             `json:"thread_id,omitempty"`
	ParentID      string             `json:"parent_id,omitempty"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	CreatedBy     string             `json:"created_by,omitempty"`
	Data          map[string]any     `json:"data,omitempty"`

	// Version guards concurrent rollup updates (optimistic concurrency).
	Version int64 `json:"-"`
}

// MarkAsRead marks the record as read at the given time.
// Re-marking an already-read record is a no-op so the original
// read timestamp is preserved.
func (r *Record) MarkAsRead(at time.Time) {
	if r.Read {
		return
	}
	r.Read = true
	r.ReadAt = &at
}

// MarkAsDismissed marks the record as dismissed at the given time.
// Idempotent the same way MarkAsRead is.
func (r *Record) MarkAsDismissed(at time.Time) {
	if r.Dismissed {
		return
	}
	r.Dismissed = true
	r.DismissedAt = &at
}

// HasChannel reports whether the record targets the given channel.
func (r *Record) HasChannel(ch Channel) bool {
	for _, c := range r.Channels {
		if c == ch {
			return true
		}
	}
	return false
}
