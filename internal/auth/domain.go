package auth

import "time"

// User represents an account in the credential store.
type User struct {
	ID               int64
	UUID             string
	Username         string
	Email            string
	PasswordHash     string
	FirstName        string
	LastName         string
	IsActive         bool
	EmailVerified    bool
	FailedLoginCount int
	LockedUntil      *time.Time
	LastLogin        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Locked reports whether the account is inside a lockout window.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// TokenType distinguishes access from refresh tokens.
type TokenType string

// Token types carried in the "type" claim.
const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Valid reports whether the value is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenAccess || t == TokenRefresh
}

// TokenPair bundles a freshly minted access and refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Revocation is a blacklist entry keyed by jti. Entries are permanent
// evidence: they outlive the token and any re-issuance.
type Revocation struct {
	JTI       string
	UserID    int64
	TokenType TokenType
	ExpiresAt time.Time
	Reason    string
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

// Subscription states.
const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionPending   SubscriptionStatus = "pending"
)

// Subscription is the minimal plan view exposed on the profile endpoint.
// Billing belongs to another service; only plan identity and state live here.
type Subscription struct {
	Plan      string
	Status    SubscriptionStatus
	ExpiresAt *time.Time
}
