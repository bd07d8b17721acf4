package delivery

// The delivery lifecycle is a fixed table rather than a configurable
// machine: pending -> sent -> delivered moves only forward, the three
// failure states are reachable from pending and sent, and failed may
// return to pending while retries remain.
//
//	pending ──> sent ──> delivered
//	   │          │
//	   ├──> failed <┘   (retryable: failed -> pending until the cap)
//	   ├──> bounced     (terminal)
//	   └──> rejected    (terminal)
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusSent:      true,
		StatusDelivered: true, // out-of-order callback, sent is backfilled
		StatusFailed:    true,
		StatusBounced:   true,
		StatusRejected:  true,
	},
	StatusSent: {
		StatusDelivered: true,
		StatusFailed:    true,
		StatusBounced:   true,
		StatusRejected:  true,
	},
	StatusFailed: {
		StatusPending: true, // guarded by the retry cap in transition()
	},
}

// canTransition reports whether the lifecycle allows from -> to.
// Self-transitions are treated as idempotent no-ops by the caller and
// are not part of the table.
func canTransition(from, to Status) bool {
	return transitions[from][to]
}

// transition validates and applies a lifecycle change on the attempt.
// It does not touch timestamps or latencies; the tracker owns those
// side effects.
func transition(a *Attempt, to Status) error {
	if !to.Valid() {
		return NewInvalidTransitionError(a.Status, to)
	}
	if a.Status == to {
		return nil
	}
	if !canTransition(a.Status, to) {
		return NewInvalidTransitionError(a.Status, to)
	}
	if a.Status == StatusFailed && to == StatusPending && a.RetriesExhausted() {
		return ErrRetriesExhausted
	}
	a.Status = to
	return nil
}
