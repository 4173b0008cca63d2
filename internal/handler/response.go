package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rakin/trackauth/internal/apperror"
)

// ErrorResponse is the standard error shape returned by all API
// endpoints, so clients always know what fields to expect.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable class, e.g. "validation_error"
	Message string `json:"message"` // human-readable description
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must go out before the body — once Encode writes,
// header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps the application's error taxonomy to HTTP.
//
// Upload, provider, and persistence failures are upstream collaborators
// misbehaving, hence 502. Raw errors that carry none of the sentinels
// fall through to 500 with a generic message — internals never leak to
// the client.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrCredential):
		return http.StatusUnauthorized, "credential_error"
	case errors.Is(err, apperror.ErrUpload):
		return http.StatusBadGateway, "upload_error"
	case errors.Is(err, apperror.ErrProvider):
		return http.StatusBadGateway, "provider_error"
	case errors.Is(err, apperror.ErrPersistence):
		return http.StatusBadGateway, "persistence_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to an HTTP error response.
func writeError(w http.ResponseWriter, err error) {
	status, class := errorStatus(err)

	message := "An internal error occurred"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	writeJSON(w, status, ErrorResponse{Error: class, Message: message})
}
