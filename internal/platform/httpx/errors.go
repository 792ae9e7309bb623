package httpx

import (
	"errors"
	"net/http"

	"github.com/jobhunter/jobhunter/internal/shared"
)

// RespondError maps domain errors to the transport status code and the
// error envelope. Unknown errors collapse to a generic 500 so internal
// detail never leaks to the client.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		Error(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		// Generic message on purpose: do not reveal whether the account exists.
		Error(w, http.StatusUnauthorized, "authentication_failed", "Invalid credentials")
	case errors.Is(err, shared.ErrAccountLocked):
		Error(w, http.StatusUnauthorized, "authentication_failed", "Account is temporarily locked")
	case errors.Is(err, shared.ErrAccountInactive):
		Error(w, http.StatusUnauthorized, "authentication_failed", "Account is not active")
	case errors.Is(err, shared.ErrTokenExpired),
		errors.Is(err, shared.ErrTokenMalformed),
		errors.Is(err, shared.ErrTokenRevoked),
		errors.Is(err, shared.ErrUserInactive):
		Error(w, http.StatusUnauthorized, "token_rejected", err.Error())
	case errors.Is(err, shared.ErrPermissionDenied):
		Error(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, shared.ErrRoleLocked):
		Error(w, http.StatusConflict, "role_locked", err.Error())
	case errors.Is(err, shared.ErrCSRFViolation):
		Error(w, http.StatusForbidden, "csrf_violation", "Invalid or missing CSRF token")
	case errors.Is(err, shared.ErrRateLimited):
		Error(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
	case errors.Is(err, shared.ErrDuplicate):
		Error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Error(w, http.StatusNotFound, "not_found", err.Error())
	default:
		Error(w, http.StatusInternalServerError, "system_error", "An internal error occurred")
	}
}
