// Package users provides administrative account management.
package users

import "time"

// Account is the administrative view of a user record.
type Account struct {
	ID               int64
	UUID             string
	Username         string
	Email            string
	FirstName        string
	LastName         string
	IsActive         bool
	EmailVerified    bool
	FailedLoginCount int
	LockedUntil      *time.Time
	LastLogin        *time.Time
	CreatedAt        time.Time
}

// Locked reports whether the account is under an active lockout.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}
