// Package resolver turns one domain event into a deduplicated list of
// (recipient, channels) pairs, combining three inputs:
//
//   - explicit recipients named by the event
//   - role auto-follow rules whose match config fits the payload,
//     expanded to the role's active members in the tenant
//   - each candidate's preferences: event opt-outs, channel toggles,
//     send caps and quiet hours
//
// Explicit inclusion wins over auto_role for the same user, but only
// one resolution is produced per user.
//
// Two quantitative policies shape the result rather than filtering it:
// a user over their hourly or daily send cap is demoted to in-app-only
// (never dropped), and a user inside their quiet window gets non-in-app
// delivery deferred to the window's end unless the event is urgent.
//
// Resolution is best effort by design. A failure expanding one role or
// loading one preference is logged and skipped; it never fails other
// candidates and never propagates into the business transaction that
// raised the event.
package resolver
