// Package dispatch hands pending delivery attempts to channel
// transports.
//
// The Dispatcher polls attempt storage for dispatchable work, builds a
// delivery Instruction from the parent record and sends it through the
// Transport registered for the attempt's channel, with bounded
// concurrency. Transports alone talk to providers; they acknowledge
// synchronously with a correlation key and report final outcomes
// asynchronously through the callback contract on the delivery
// tracker.
//
// Attempts deferred by quiet hours carry a ScheduledFor timestamp and
// are simply not listed until it passes, so deferred release falls out
// of the regular polling sweep. A slower second loop requeues failed
// attempts that still have retry budget.
//
//	dispatcher, err := dispatch.NewDispatcher(tracker, store,
//		dispatch.WithConfig(cfg))
//	if err != nil { ... }
//	dispatcher.RegisterTransport(notification.ChannelInApp, dispatch.NewInAppTransport())
//	dispatcher.RegisterTransport(notification.ChannelEmail, emailTransport)
//	dispatcher.Start(ctx)
//	defer dispatcher.Stop()
package dispatch
