// Package delivery tracks one delivery attempt per (notification,
// channel) pair through the per-channel lifecycle:
//
//	pending -> sent -> delivered
//
// with three failure states: failed (transient, retryable until the
// retry cap), bounced (permanent, invalid recipient) and rejected
// (permanent, policy refusal). Engagement (opens and clicks) is a
// counter layered on top of delivered, not a lifecycle state of its
// own: the first open pins the timestamp, later opens only increment
// the counter.
//
// Inbound provider callbacks are correlated via
// (provider, provider_message_id). Callbacks arriving out of order
// backfill the states they skipped - a "delivered" preceding "sent"
// implicitly records the send - rather than being discarded.
//
// Every transition mirrors the new status into the denormalized
// per-channel rollup on the parent notification record. Concurrent
// transitions for different channels of the same record resolve
// through optimistic-concurrency retry, not locking.
package delivery
