package resolver

import "errors"

var (
	// ErrMissingTenantID is returned for events without a tenant scope.
	ErrMissingTenantID = errors.New("tenant id is required")

	// ErrMissingEventType is returned for events without an event type.
	ErrMissingEventType = errors.New("event type is required")
)
