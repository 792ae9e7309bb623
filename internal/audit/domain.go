package audit

import "time"

// EventType identifies a security event class.
type EventType string

// Security event types written by the auth core.
const (
	EventLoginSuccess         EventType = "login_success"
	EventLoginFailed          EventType = "login_failed"
	EventLogout               EventType = "logout"
	EventUserRegistered       EventType = "user_registered"
	EventUserModified         EventType = "user_modified"
	EventPasswordChanged      EventType = "password_changed"
	EventPasswordChangeFailed EventType = "password_change_failed"
	EventAccountLocked        EventType = "account_locked"
	EventAccountUnlocked      EventType = "account_unlocked"
	EventRoleCreated          EventType = "role_created"
	EventRoleModified         EventType = "role_modified"
	EventRoleAssigned         EventType = "role_assigned"
	EventRoleRemoved          EventType = "role_removed"
	EventPermissionGranted    EventType = "permission_granted"
	EventPermissionRevoked    EventType = "permission_revoked"
	EventUnauthorizedAccess   EventType = "unauthorized_access"
	EventInvalidToken         EventType = "invalid_token"
	EventCSRFViolation        EventType = "csrf_violation"
	EventRateLimitExceeded    EventType = "rate_limit_exceeded"
	EventSuspiciousActivity   EventType = "suspicious_activity"
	EventSQLInjectionAttempt  EventType = "sql_injection_attempt"
	EventSlowRequest          EventType = "slow_request"
	EventErrorResponse        EventType = "error_response"
	EventSystemError          EventType = "system_error"
)

// Severity grades a security event.
type Severity string

// Severity levels, lowest to highest.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one append-only security log entry.
type Event struct {
	Type      EventType
	UserID    *int64
	IP        string
	UserAgent string
	Details   map[string]any
	Severity  Severity
}

// Entry is a stored event as read back from the log.
type Entry struct {
	ID        int64
	Type      EventType
	UserID    *int64
	IP        string
	UserAgent string
	Details   map[string]any
	Severity  Severity
	CreatedAt time.Time
}
