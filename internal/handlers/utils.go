package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/logging"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/middleware"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/models"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/sentry"
)

const maxBodyBytes = 64 << 10

// writeJSON serializes data as JSON and writes it to the response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response. If no context/error provided, just writes the response.
// For simple client errors (400-level), use: writeError(w, status, msg)
// For server errors with cause, use: writeErrorWithCause(ctx, w, status, msg, err)
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}

// writeErrorWithCause writes an error response and logs the error with stack trace.
// Server errors are also reported to Sentry.
func writeErrorWithCause(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	writeError(w, status, message)

	// Don't log 401/403 - handled by security event logging
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return
	}

	if status >= 400 && err != nil {
		wrappedErr := logging.WrapError(err, message)
		logging.LogErrorWithStatus(ctx, status, "error response", wrappedErr)
		if status >= 500 {
			sentry.CaptureError(ctx, wrappedErr)
		}
	}
}

// writeDomainError maps a queue or store error onto an HTTP status.
// Anything unrecognized is a 500 with fallback as the message.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error, fallback string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "queue changed, retry")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	default:
		writeErrorWithCause(ctx, w, http.StatusInternalServerError, fallback, err)
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// eventKey reads the organization and event from the URL.
func eventKey(r *http.Request) domain.EventKey {
	return domain.EventKey{
		OrganizationID: chi.URLParam(r, middleware.OrgParam),
		EventCode:      chi.URLParam(r, "eventCode"),
	}
}

// performedBy names the actor recorded in the audit log.
func performedBy(r *http.Request) string {
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		if claims.Subject != "" {
			return claims.Subject
		}
		return string(claims.Role)
	}
	return "attendee"
}
