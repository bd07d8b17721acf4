package preference

import "errors"

var (
	// ErrNotFound is returned when no preference exists for the scope.
	ErrNotFound = errors.New("preference not found")

	// ErrMissingUserID is returned when a preference has no user scope.
	ErrMissingUserID = errors.New("user id is required")

	// ErrMissingTenantID is returned when a preference has no tenant scope.
	ErrMissingTenantID = errors.New("tenant id is required")

	// ErrMissingModule is returned when a preference has no module scope.
	ErrMissingModule = errors.New("module is required")

	// ErrInvalidRateLimit is returned for out-of-range rate limit values.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidQuietHours is returned for malformed quiet-hour windows.
	ErrInvalidQuietHours = errors.New("invalid quiet hours")

	// ErrInvalidChannel is returned for unknown channel names.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrEmptyEventType is returned for overrides keyed by an empty event type.
	ErrEmptyEventType = errors.New("event type cannot be empty")
)
