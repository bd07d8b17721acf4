package sendlimit

import "errors"

var (
	// ErrStoreNil is returned when a limiter is created without a store.
	ErrStoreNil = errors.New("store is required")

	// ErrInvalidLimits is returned for negative limit values.
	ErrInvalidLimits = errors.New("invalid limits")

	// ErrStoreUnavailable is returned when the counter backend fails.
	// Callers apply the fail-open policy: a send is never blocked by a
	// broken counter.
	ErrStoreUnavailable = errors.New("send counter store unavailable")
)
