// Package preference stores per-user, per-module notification settings:
// channel toggles, per-event-type overrides, hourly/daily send caps and
// quiet-hour windows.
//
// A user with no stored preference gets the permissive defaults (every
// channel enabled, no caps, no quiet hours). Role rules may seed
// defaults at role-assignment time via Store.Seed, but once a user has
// materialized settings those are authoritative and seeding becomes a
// no-op.
//
// Validation is strict: out-of-range rate limits and malformed quiet
// windows are rejected at write time rather than silently clamped.
// Quiet windows may wrap midnight (22:00 - 07:00).
package preference
