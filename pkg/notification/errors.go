package notification

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("notification not found")

	// ErrDuplicateID is returned when creating a record whose ID already exists.
	ErrDuplicateID = errors.New("notification id already exists")

	// ErrNotOwner is returned when a user attempts to mutate a record they do not own.
	ErrNotOwner = errors.New("notification does not belong to user")

	// ErrMissingUserID is returned when a record has no owning user.
	ErrMissingUserID = errors.New("user id is required")

	// ErrMissingTenantID is returned when a record has no tenant scope.
	ErrMissingTenantID = errors.New("tenant id is required")

	// ErrMissingTitle is returned when a record has no title.
	ErrMissingTitle = errors.New("title is required")

	// ErrInvalidChannel is returned when a record targets an unknown channel.
	ErrInvalidChannel = errors.New("invalid channel")
)
