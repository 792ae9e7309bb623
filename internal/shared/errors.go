package shared

import "errors"

// Sentinel errors shared across the auth core. Handlers translate these
// into the transport envelope via platform/httpx.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique-constraint conflict.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates malformed or rejected input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials indicates login failure (unknown user or bad password).
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account is inside a lockout window.
	ErrAccountLocked = errors.New("account is temporarily locked")
	// ErrAccountInactive indicates a deactivated account.
	ErrAccountInactive = errors.New("account is not active")

	// ErrTokenExpired indicates the token exp claim has passed.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenMalformed indicates signature or claim validation failure.
	ErrTokenMalformed = errors.New("token is malformed")
	// ErrTokenRevoked indicates the token jti is on the revocation list.
	ErrTokenRevoked = errors.New("token has been revoked")
	// ErrUserInactive indicates the token subject no longer resolves to an active user.
	ErrUserInactive = errors.New("user not found or inactive")

	// ErrPermissionDenied indicates a failed authorization check.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRoleLocked indicates a system role or a role with active assignments.
	ErrRoleLocked = errors.New("role is locked")

	// ErrCSRFViolation indicates a missing, mismatched or spent CSRF token.
	ErrCSRFViolation = errors.New("csrf token validation failed")
	// ErrRateLimited indicates the request exceeded the rate limit.
	ErrRateLimited = errors.New("rate limit exceeded")
)
