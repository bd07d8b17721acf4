package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/metrics"
	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/preference"
	"github.com/opsbase/notify/pkg/resolver"
)

// JSONResponse is the standard response envelope.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail carries error information in the envelope.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain sentinels onto HTTP statuses. Authorization
// and validation faults surface synchronously; everything else is an
// internal error.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, notification.ErrNotFound),
		errors.Is(err, delivery.ErrNotFound),
		errors.Is(err, preference.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, notification.ErrNotOwner):
		status = http.StatusForbidden
		code = "not_owner"
	case errors.Is(err, notification.ErrDuplicateID),
		errors.Is(err, delivery.ErrDuplicateID),
		errors.Is(err, delivery.ErrDuplicateChannel):
		status = http.StatusConflict
		code = "duplicate"
	case errors.Is(err, notification.ErrMissingUserID),
		errors.Is(err, notification.ErrMissingTenantID),
		errors.Is(err, notification.ErrMissingTitle),
		errors.Is(err, notification.ErrInvalidChannel),
		errors.Is(err, resolver.ErrMissingTenantID),
		errors.Is(err, resolver.ErrMissingEventType),
		errors.Is(err, metrics.ErrMissingTenantID),
		errors.Is(err, preference.ErrInvalidRateLimit),
		errors.Is(err, preference.ErrInvalidQuietHours),
		errors.Is(err, preference.ErrInvalidChannel),
		errors.Is(err, preference.ErrEmptyEventType),
		errors.Is(err, delivery.ErrUnknownCallbackStatus):
		status = http.StatusUnprocessableEntity
		code = "validation_error"
	}

	writeJSON(w, status, JSONResponse{
		Error: &ErrorDetail{Code: code, Message: err.Error()},
	})
}
