package metrics

import "errors"

// ErrMissingTenantID is returned when a report is requested without a
// tenant scope.
var ErrMissingTenantID = errors.New("tenant id is required")
