package api

import (
	"errors"
	"net/http"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/platform/blob"
	"github.com/pagelift/pagelift-api/internal/provider"
	"github.com/pagelift/pagelift-api/internal/quota"
	"github.com/pagelift/pagelift-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNoIdentity):
		return http.StatusUnauthorized

	case store.IsNotFoundError(err):
		return http.StatusNotFound

	// A missing blob store or provider configuration is an operator
	// problem, not a server bug: surface it as service unavailable.
	case errors.Is(err, blob.ErrNotConfigured),
		errors.Is(err, provider.ErrNotConfigured),
		errors.Is(err, provider.ErrDisabled):
		return http.StatusServiceUnavailable

	case errors.Is(err, quota.ErrExceeded):
		return http.StatusTooManyRequests

	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err. Full details
// stay in the server logs.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"

	case errors.Is(err, ErrNoIdentity):
		return "Missing identity"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case store.IsNotFoundError(err):
		return "Not found"

	case errors.Is(err, blob.ErrNotConfigured):
		return "File storage is not configured"

	case errors.Is(err, provider.ErrNotConfigured),
		errors.Is(err, provider.ErrDisabled):
		return "Provider is not available"

	case errors.Is(err, quota.ErrExceeded):
		return "Daily page quota exceeded"

	case errors.Is(err, store.ErrDuplicate):
		return "Already exists"

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"

	default:
		return "An unexpected error occurred"
	}
}
