package preference

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opsbase/notify/pkg/notification"
)

// Bounds for per-user rate limits. Values above these are configuration
// mistakes and are rejected rather than clamped.
const (
	MaxHourlyLimit = 1000
	MaxDailyLimit  = 10000
)

// EventOverride adjusts behavior for a single event type, overriding
// the module-level channel toggles.
type EventOverride struct {
	// Enabled disables the event entirely when false.
	Enabled bool `json:"enabled"`
	// Channels narrows the allowed channels for this event when non-empty.
	Channels []notification.Channel `json:"channels,omitempty"`
}

// QuietWindow is a daily time window during which non-urgent delivery
// on external channels is deferred. The window may wrap midnight
// (e.g. 22:00 - 07:00).
type QuietWindow struct {
	Start string `json:"start"` // "HH:MM", inclusive
	End   string `json:"end"`   // "HH:MM", exclusive
}

// Preference holds a user's notification settings for one module
// within a tenant.
type Preference struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Module   string `json:"module"`

	// Channels toggles delivery channels. A nil map means every
	// channel is enabled (the default for users who never touched
	// their settings).
	Channels map[notification.Channel]bool `json:"channels,omitempty"`

	// EventOverrides keys per-event-type adjustments by event type.
	EventOverrides map[string]EventOverride `json:"event_overrides,omitempty"`

	// MaxPerHour / MaxPerDay cap sends for this module. Zero means no cap.
	MaxPerHour int `json:"max_per_hour,omitempty"`
	MaxPerDay  int `json:"max_per_day,omitempty"`

	QuietHours *QuietWindow `json:"quiet_hours,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate rejects malformed preferences at write time. Invalid values
// are never silently clamped.
func (p Preference) Validate() error {
	if p.UserID == "" {
		return ErrMissingUserID
	}
	if p.TenantID == "" {
		return ErrMissingTenantID
	}
	if p.Module == "" {
		return ErrMissingModule
	}
	if p.MaxPerHour < 0 || p.MaxPerHour > MaxHourlyLimit {
		return fmt.Errorf("%w: max_per_hour %d out of range [0, %d]", ErrInvalidRateLimit, p.MaxPerHour, MaxHourlyLimit)
	}
	if p.MaxPerDay < 0 || p.MaxPerDay > MaxDailyLimit {
		return fmt.Errorf("%w: max_per_day %d out of range [0, %d]", ErrInvalidRateLimit, p.MaxPerDay, MaxDailyLimit)
	}
	for ch := range p.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
		}
	}
	for event, ov := range p.EventOverrides {
		if event == "" {
			return ErrEmptyEventType
		}
		for _, ch := range ov.Channels {
			if !ch.Valid() {
				return fmt.Errorf("%w: %q for event %q", ErrInvalidChannel, ch, event)
			}
		}
	}
	if p.QuietHours != nil {
		if err := p.QuietHours.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ChannelEnabled reports whether the channel is enabled at module level.
func (p Preference) ChannelEnabled(ch notification.Channel) bool {
	if p.Channels == nil {
		return true
	}
	enabled, ok := p.Channels[ch]
	if !ok {
		return true
	}
	return enabled
}

// EventEnabled reports whether the user receives the event type at all.
func (p Preference) EventEnabled(eventType string) bool {
	ov, ok := p.EventOverrides[eventType]
	if !ok {
		return true
	}
	return ov.Enabled
}

// AllowedChannels intersects the requested channels with the user's
// module toggles and any per-event override. The result preserves the
// requested order.
func (p Preference) AllowedChannels(eventType string, requested []notification.Channel) []notification.Channel {
	if !p.EventEnabled(eventType) {
		return nil
	}

	var narrowed []notification.Channel
	if ov, ok := p.EventOverrides[eventType]; ok && len(ov.Channels) > 0 {
		narrowed = ov.Channels
	}

	allowed := make([]notification.Channel, 0, len(requested))
	for _, ch := range requested {
		if !p.ChannelEnabled(ch) {
			continue
		}
		if narrowed != nil && !containsChannel(narrowed, ch) {
			continue
		}
		allowed = append(allowed, ch)
	}
	return allowed
}

// InQuietHours reports whether t falls inside the user's quiet window.
func (p Preference) InQuietHours(t time.Time) bool {
	if p.QuietHours == nil {
		return false
	}
	return p.QuietHours.Contains(t)
}

// Contains reports whether the wall-clock time of t falls inside the window.
func (w QuietWindow) Contains(t time.Time) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}

	minute := t.Hour()*60 + t.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Window wraps midnight.
	return minute >= start || minute < end
}

// NextEnd returns the next moment after t when the window closes.
// Used to compute the deferred delivery time.
func (w QuietWindow) NextEnd(t time.Time) time.Time {
	end, err := parseClock(w.End)
	if err != nil {
		return t
	}
	candidate := time.Date(t.Year(), t.Month(), t.Day(), end/60, end%60, 0, 0, t.Location())
	if !candidate.After(t) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}

func (w QuietWindow) validate() error {
	start, err := parseClock(w.Start)
	if err != nil {
		return fmt.Errorf("%w: start %q", ErrInvalidQuietHours, w.Start)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return fmt.Errorf("%w: end %q", ErrInvalidQuietHours, w.End)
	}
	if start == end {
		return fmt.Errorf("%w: empty window", ErrInvalidQuietHours)
	}
	return nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("malformed hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("malformed minute in %q", s)
	}
	return hour*60 + minute, nil
}

func containsChannel(set []notification.Channel, ch notification.Channel) bool {
	for _, c := range set {
		if c == ch {
			return true
		}
	}
	return false
}
