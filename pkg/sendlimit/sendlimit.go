package sendlimit

import (
	"context"
	"fmt"
	"time"
)

// Key identifies a send counter scope.
type Key struct {
	TenantID string
	UserID   string
	Module   string
}

func (k Key) String() string {
	return k.TenantID + ":" + k.UserID + ":" + k.Module
}

// Limits caps sends per rolling window. Zero means no cap.
type Limits struct {
	PerHour int
	PerDay  int
}

// Counts holds the current window counters for a key.
type Counts struct {
	Hour int
	Day  int
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed bool
	Counts  Counts
	Limits  Limits
}

// Store persists send counters. Implementations use fixed hour/day
// windows; the bounded imprecision at window edges is accepted in
// exchange for cheap atomic increments.
type Store interface {
	// Incr increments both window counters for the key and returns the
	// counts after the increment.
	Incr(ctx context.Context, key Key, now time.Time) (Counts, error)

	// Peek returns the current counts without incrementing.
	Peek(ctx context.Context, key Key, now time.Time) (Counts, error)

	// Reset clears the counters for a key.
	Reset(ctx context.Context, key Key) error
}

// Limiter checks per-user send caps. The check is read-then-increment:
// concurrent callers may overshoot a cap by the number of in-flight
// checks, which is accepted (callers demote rather than drop, so the
// failure mode is a few extra in-app-only notifications).
type Limiter struct {
	store Store
}

// NewLimiter creates a limiter backed by the given store.
func NewLimiter(store Store) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	return &Limiter{store: store}, nil
}

// Allow checks the key against the limits and, when under every cap,
// counts the send. At/over any cap it returns Allowed=false without
// incrementing, so demoted sends do not consume budget.
func (l *Limiter) Allow(ctx context.Context, key Key, limits Limits) (*Result, error) {
	if limits.PerHour < 0 || limits.PerDay < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidLimits)
	}

	current, err := l.store.Peek(ctx, key, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if (limits.PerHour > 0 && current.Hour >= limits.PerHour) ||
		(limits.PerDay > 0 && current.Day >= limits.PerDay) {
		return &Result{Allowed: false, Counts: current, Limits: limits}, nil
	}

	after, err := l.store.Incr(ctx, key, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &Result{Allowed: true, Counts: after, Limits: limits}, nil
}
