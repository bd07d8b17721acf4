// Package sendlimit tracks per-user notification send counts in hour
// and day windows, keyed by (tenant, user, module).
//
// The limiter implements the engine's demotion policy: when a user is
// at or over a cap the caller demotes delivery to in-app-only rather
// than dropping the notification, so a result of Allowed=false never
// means "silence the user".
//
// The check is deliberately read-then-increment rather than strictly
// serialized. Concurrent resolutions may overshoot a cap by the number
// of in-flight checks; the overshoot is bounded and accepted because
// the cost of an extra notification is far lower than the cost of
// serializing every fan-out through a lock.
//
// Two stores are provided: MemoryStore for single-process deployments
// and RedisStore for shared counters across instances.
package sendlimit
