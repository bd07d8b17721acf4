// Package fanout expands announced domain events into per-recipient
// notification records and per-channel delivery attempts.
//
// The Engine composes the recipient resolver, the notification record
// service and the delivery tracker:
//
//	engine := fanout.New(resolver, records, tracker)
//	receipts, err := engine.Announce(ctx, resolver.Event{
//		TenantID:           "t1",
//		Module:             "sales_orders",
//		EventType:          "order_created",
//		ExplicitRecipients: []string{"u1"},
//		Title:              "Order created",
//	})
//
// Announce stores records synchronously, so the announcing operation
// observes them before it completes, and leaves one pending attempt
// per (record, channel) for the dispatcher. It never performs
// transport I/O and never fails the caller for a single bad recipient.
package fanout
