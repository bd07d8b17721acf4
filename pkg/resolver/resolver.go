package resolver

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/opsbase/notify/pkg/logger"
	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/preference"
	"github.com/opsbase/notify/pkg/sendlimit"
)

// Reason records why a user was included in a fan-out.
type Reason string

const (
	// ReasonExplicit marks users named directly by the event.
	ReasonExplicit Reason = "explicit"
	// ReasonAutoRole marks users included through a role rule.
	ReasonAutoRole Reason = "auto_role"
)

// Event is a domain event submitted for fan-out.
type Event struct {
	TenantID           string
	Module             string
	EventType          string
	EntityType         string
	EntityID           string
	ExplicitRecipients []string
	Title              string
	Message            string
	ActionURL          string
	ActionLabel        string
	Priority           notification.Priority
	Channels           []notification.Channel
	Payload            map[string]any
	ThreadID           string
	CreatedBy          string
}

// Resolution is one resolved (recipient, channels) pair.
type Resolution struct {
	UserID   string
	Channels []notification.Channel
	Reason   Reason
	// Demoted is set when rate limiting reduced delivery to in-app only.
	Demoted bool
	// DeferUntil is set for non-in-app channels when the recipient is
	// inside their quiet window; delivery on those channels is
	// scheduled instead of immediate.
	DeferUntil *time.Time
}

// Resolver computes the target users and allowed channels for an event
// by combining explicit recipients, role auto-follow rules and each
// candidate's preferences. Fan-out is best effort: a failure expanding
// one role or loading one user's preferences is isolated and logged,
// never aborting the rest of the batch or the triggering transaction.
type Resolver struct {
	prefs     preference.Store
	rules     RuleSource
	directory RoleDirectory
	limiter   *sendlimit.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger for the Resolver.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithLimiter enables rate-limit demotion using the given limiter.
func WithLimiter(l *sendlimit.Limiter) ResolverOption {
	return func(r *Resolver) {
		r.limiter = l
	}
}

// WithClock overrides the time source. Testing only.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// New creates a Resolver. rules and directory may be nil when role
// expansion is not used.
func New(prefs preference.Store, rules RuleSource, directory RoleDirectory, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		prefs:     prefs,
		rules:     rules,
		directory: directory,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve computes the deduplicated recipient list for an event.
// Explicit reason wins over auto_role for the same user, but only one
// resolution is produced per user.
func (r *Resolver) Resolve(ctx context.Context, ev Event) ([]Resolution, error) {
	if ev.TenantID == "" {
		return nil, ErrMissingTenantID
	}
	if ev.EventType == "" {
		return nil, ErrMissingEventType
	}

	candidates := make(map[string]Reason)
	for _, userID := range ev.ExplicitRecipients {
		if userID == "" {
			continue
		}
		candidates[userID] = ReasonExplicit
	}

	r.expandRoles(ctx, ev, candidates)

	resolutions := make([]Resolution, 0, len(candidates))
	for userID, reason := range candidates {
		res, ok := r.resolveCandidate(ctx, ev, userID, reason)
		if ok {
			resolutions = append(resolutions, res)
		}
	}

	// Deterministic output order for callers and tests.
	sort.Slice(resolutions, func(i, j int) bool {
		return resolutions[i].UserID < resolutions[j].UserID
	})
	return resolutions, nil
}

// expandRoles adds active members of matching auto-follow rules.
// Errors are isolated per rule so one broken role never loses the rest
// of the fan-out.
func (r *Resolver) expandRoles(ctx context.Context, ev Event, candidates map[string]Reason) {
	if r.rules == nil || r.directory == nil {
		return
	}

	rules, err := r.rules.RulesFor(ctx, ev.Module, ev.EventType)
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "failed to load role rules, continuing with explicit recipients",
			logger.TenantID(ev.TenantID),
			logger.Module(ev.Module),
			logger.EventType(ev.EventType),
			logger.Error(err),
		)
		return
	}

	for _, rule := range rules {
		if !rule.Applies(ev.Payload) {
			continue
		}

		members, err := r.directory.ActiveMembers(ctx, ev.TenantID, rule.Role)
		if err != nil {
			r.logger.LogAttrs(ctx, slog.LevelError, "failed to expand role, skipping",
				logger.TenantID(ev.TenantID),
				logger.Role(rule.Role),
				logger.EventType(ev.EventType),
				logger.Error(err),
			)
			continue
		}

		for _, userID := range members {
			// Explicit reason wins for users already present.
			if _, exists := candidates[userID]; !exists {
				candidates[userID] = ReasonAutoRole
			}
		}
	}
}

// resolveCandidate applies the candidate's preferences, rate limits and
// quiet hours. Returns false when the user opted out of the event or of
// every requested channel.
func (r *Resolver) resolveCandidate(ctx context.Context, ev Event, userID string, reason Reason) (Resolution, bool) {
	pref := r.loadPreference(ctx, ev, userID)

	if !pref.EventEnabled(ev.EventType) {
		return Resolution{}, false
	}

	requested := ev.Channels
	if len(requested) == 0 {
		requested = []notification.Channel{notification.ChannelInApp}
	}

	allowed := pref.AllowedChannels(ev.EventType, requested)
	if len(allowed) == 0 {
		return Resolution{}, false
	}

	res := Resolution{
		UserID:   userID,
		Channels: allowed,
		Reason:   reason,
	}

	r.applyRateLimit(ctx, ev, pref, &res)
	r.applyQuietHours(ev, pref, &res)
	return res, true
}

// loadPreference falls back to permissive defaults when the user never
// materialized settings or when the store fails. Preference store
// failures must not block fan-out.
func (r *Resolver) loadPreference(ctx context.Context, ev Event, userID string) preference.Preference {
	if r.prefs == nil {
		return preference.Preference{}
	}

	pref, err := r.prefs.Get(ctx, ev.TenantID, userID, ev.Module)
	if err != nil {
		if err != preference.ErrNotFound {
			r.logger.LogAttrs(ctx, slog.LevelWarn, "failed to load preference, using defaults",
				logger.TenantID(ev.TenantID),
				logger.UserID(userID),
				logger.Module(ev.Module),
				logger.Error(err),
			)
		}
		return preference.Preference{}
	}
	return *pref
}

// applyRateLimit demotes delivery to in-app-only once the user's caps
// are reached. A user is never dropped for being over cap, and a broken
// counter store fails open.
func (r *Resolver) applyRateLimit(ctx context.Context, ev Event, pref preference.Preference, res *Resolution) {
	if r.limiter == nil || (pref.MaxPerHour == 0 && pref.MaxPerDay == 0) {
		return
	}

	key := sendlimit.Key{TenantID: ev.TenantID, UserID: res.UserID, Module: ev.Module}
	limits := sendlimit.Limits{PerHour: pref.MaxPerHour, PerDay: pref.MaxPerDay}

	result, err := r.limiter.Allow(ctx, key, limits)
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "send counter unavailable, failing open",
			logger.TenantID(ev.TenantID),
			logger.UserID(res.UserID),
			logger.Error(err),
		)
		return
	}

	if !result.Allowed {
		res.Channels = []notification.Channel{notification.ChannelInApp}
		res.Demoted = true
		r.logger.LogAttrs(ctx, slog.LevelInfo, "recipient over send cap, demoted to in-app",
			logger.TenantID(ev.TenantID),
			logger.UserID(res.UserID),
			logger.Module(ev.Module),
		)
	}
}

// applyQuietHours defers non-in-app delivery when the recipient is
// inside their quiet window. Urgent and critical events bypass quiet
// hours entirely.
func (r *Resolver) applyQuietHours(ev Event, pref preference.Preference, res *Resolution) {
	if ev.Priority >= notification.PriorityUrgent {
		return
	}
	now := r.now()
	if !pref.InQuietHours(now) {
		return
	}

	hasExternal := false
	for _, ch := range res.Channels {
		if ch != notification.ChannelInApp {
			hasExternal = true
			break
		}
	}
	if !hasExternal {
		return
	}

	until := pref.QuietHours.NextEnd(now)
	res.DeferUntil = &until
}
