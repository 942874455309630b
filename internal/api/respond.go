package api

import (
	"encoding/json"
	"net/http"

	"github.com/pagelift/pagelift-api/internal/platform/logger"
	"github.com/pagelift/pagelift-api/internal/redact"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithJSON writes payload as JSON with the given status.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.FromContext(r.Context()).Error("writing response body", "error", err)
	}
}

// RespondWithError writes a sanitized error body.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	RespondWithJSON(w, r, status, ErrorResponse{Error: message})
}

// RespondWithErrorAndLog logs the redacted error server-side, then sends
// only the sanitized message to the client.
func RespondWithErrorAndLog(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	logger.FromContext(r.Context()).Error("request failed",
		"status", status, "path", r.URL.Path, "error", redact.Error(err))
	RespondWithError(w, r, status, message)
}
