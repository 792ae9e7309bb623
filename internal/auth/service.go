package auth

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/observability"
	"github.com/jobhunter/jobhunter/internal/shared"
)

const (
	// DefaultLockoutThreshold is the number of consecutive failures that
	// triggers a lockout.
	DefaultLockoutThreshold = 5
	// DefaultLockoutWindow is how long a locked account refuses logins.
	DefaultLockoutWindow = 30 * time.Minute

	// DefaultRole is assigned to self-registered users.
	DefaultRole = "jobseeker"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailPattern    = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)
)

// RoleAssigner grants a named role to a user. Implemented by the RBAC
// resolver; kept as an interface so the credential store stays a leaf.
type RoleAssigner interface {
	AssignRoleByName(ctx context.Context, userID int64, roleName string, assignedBy *int64) error
}

// GrantSource resolves the current role and permission names for a user.
type GrantSource interface {
	Snapshot(ctx context.Context, userID int64) (roles []string, permissions []string, err error)
}

// PromptTracker receives best-effort product telemetry. Implementations
// must never block; the credential store fires events off the critical
// path and ignores the outcome.
type PromptTracker interface {
	Track(kind string, userID *int64, details map[string]any)
}

// ServiceConfig tunes the lockout policy.
type ServiceConfig struct {
	LockoutThreshold int
	LockoutWindow    time.Duration
}

// Service implements the credential store: authentication, registration,
// lockout accounting and password changes.
type Service struct {
	repo      Repository
	roles     RoleAssigner
	grants    GrantSource
	audit     *audit.Service
	metrics   *observability.Metrics
	tracker   PromptTracker
	threshold int
	window    time.Duration
	now       func() time.Time
}

// NewService constructs a Service. Metrics and tracker may be nil.
func NewService(repo Repository, roles RoleAssigner, grants GrantSource, auditSvc *audit.Service, metrics *observability.Metrics, tracker PromptTracker, cfg ServiceConfig) *Service {
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = DefaultLockoutThreshold
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = DefaultLockoutWindow
	}
	return &Service{
		repo:      repo,
		roles:     roles,
		grants:    grants,
		audit:     auditSvc,
		metrics:   metrics,
		tracker:   tracker,
		threshold: cfg.LockoutThreshold,
		window:    cfg.LockoutWindow,
		now:       time.Now,
	}
}

func (s *Service) track(kind string, userID *int64, details map[string]any) {
	if s.tracker != nil {
		s.tracker.Track(kind, userID, details)
	}
}

// Authenticate validates credentials against the store. The identifier
// matches username or email. Every failure path writes a security event;
// a locked account fails even with the correct password.
func (s *Service) Authenticate(ctx context.Context, identifier, password, ip, userAgent string) (*User, error) {
	user, err := s.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if err == shared.ErrNotFound {
			s.audit.Log(ctx, audit.Event{
				Type: audit.EventLoginFailed, IP: ip, UserAgent: userAgent,
				Details:  map[string]any{"reason": "user_not_found", "attempted_login": identifier},
				Severity: audit.SeverityMedium,
			})
			s.metrics.RecordLogin("failure")
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.now().UTC()
	if user.Locked(now) {
		s.audit.Log(ctx, audit.Event{
			Type: audit.EventLoginFailed, UserID: &user.ID, IP: ip, UserAgent: userAgent,
			Details:  map[string]any{"reason": "account_locked"},
			Severity: audit.SeverityHigh,
		})
		s.metrics.RecordLogin("locked")
		return nil, shared.ErrAccountLocked
	}

	if !user.IsActive {
		s.audit.Log(ctx, audit.Event{
			Type: audit.EventLoginFailed, UserID: &user.ID, IP: ip, UserAgent: userAgent,
			Details:  map[string]any{"reason": "account_inactive"},
			Severity: audit.SeverityMedium,
		})
		s.metrics.RecordLogin("failure")
		return nil, shared.ErrAccountInactive
	}

	if !CheckPassword(user.PasswordHash, password) {
		attempts, locked := s.incrementFailure(ctx, user, ip, userAgent)
		severity := audit.SeverityMedium
		if locked {
			severity = audit.SeverityHigh
		}
		s.audit.Log(ctx, audit.Event{
			Type: audit.EventLoginFailed, UserID: &user.ID, IP: ip, UserAgent: userAgent,
			Details:  map[string]any{"reason": "invalid_password", "attempts": attempts},
			Severity: severity,
		})
		s.metrics.RecordLogin("failure")
		return nil, shared.ErrInvalidCredentials
	}

	if err := s.repo.RecordSuccess(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.FailedLoginCount = 0
	user.LockedUntil = nil
	user.LastLogin = &now

	s.audit.Log(ctx, audit.Event{
		Type: audit.EventLoginSuccess, UserID: &user.ID, IP: ip, UserAgent: userAgent,
		Details:  map[string]any{"login_method": "password"},
		Severity: audit.SeverityLow,
	})
	s.metrics.RecordLogin("success")
	s.track("login", &user.ID, map[string]any{"method": "password"})
	return user, nil
}

// incrementFailure bumps the failure counter. At the threshold the account
// locks for a fresh window and the counter resets to zero.
func (s *Service) incrementFailure(ctx context.Context, user *User, ip, userAgent string) (attempts int, locked bool) {
	attempts = user.FailedLoginCount + 1
	if attempts >= s.threshold {
		until := s.now().UTC().Add(s.window)
		if err := s.repo.RecordFailure(ctx, user.ID, 0, &until); err == nil {
			user.FailedLoginCount = 0
			user.LockedUntil = &until
		}
		s.audit.Log(ctx, audit.Event{
			Type: audit.EventAccountLocked, UserID: &user.ID, IP: ip, UserAgent: userAgent,
			Details:  map[string]any{"locked_until": until.Format(time.RFC3339), "attempts": attempts},
			Severity: audit.SeverityHigh,
		})
		s.metrics.RecordLockout()
		return attempts, true
	}
	if err := s.repo.RecordFailure(ctx, user.ID, attempts, nil); err == nil {
		user.FailedLoginCount = attempts
	}
	return attempts, false
}

// RegisterParams collects validated registration input.
type RegisterParams struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	UserType        string
}

// Register creates a new account with the default role for its user type.
func (s *Service) Register(ctx context.Context, params RegisterParams, ip, userAgent string) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(params.Username))
	email := strings.ToLower(strings.TrimSpace(params.Email))
	userType := params.UserType
	if userType == "" {
		userType = DefaultRole
	}

	var errs []string
	if len(username) < 3 {
		errs = append(errs, "Username must be at least 3 characters long")
	} else if !usernamePattern.MatchString(username) {
		errs = append(errs, "Username can only contain letters, numbers, and underscores")
	}
	if !emailPattern.MatchString(email) {
		errs = append(errs, "Valid email address is required")
	}
	if strings.TrimSpace(params.FirstName) == "" {
		errs = append(errs, "First name is required")
	}
	if strings.TrimSpace(params.LastName) == "" {
		errs = append(errs, "Last name is required")
	}
	errs = append(errs, PasswordPolicyErrors(params.Password)...)
	if params.Password != params.ConfirmPassword {
		errs = append(errs, "Passwords do not match")
	}
	if userType != "jobseeker" && userType != "consultancy" {
		errs = append(errs, "Invalid user type")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(errs, "; "))
	}

	hash, err := HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.Create(ctx, CreateUserParams{
		UUID:         uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(params.FirstName),
		LastName:     strings.TrimSpace(params.LastName),
	})
	if err != nil {
		return nil, err
	}

	if s.roles != nil {
		if err := s.roles.AssignRoleByName(ctx, user.ID, userType, nil); err != nil {
			return nil, err
		}
	}

	s.audit.Log(ctx, audit.Event{
		Type: audit.EventUserRegistered, UserID: &user.ID, IP: ip, UserAgent: userAgent,
		Details:  map[string]any{"username": username, "email": email, "user_type": userType},
		Severity: audit.SeverityLow,
	})
	s.track("registration", &user.ID, map[string]any{"user_type": userType})
	return user, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, user *User, current, next, confirm, ip, userAgent string) error {
	if current == "" || next == "" || confirm == "" {
		return fmt.Errorf("%w: all password fields are required", shared.ErrValidation)
	}
	if !CheckPassword(user.PasswordHash, current) {
		s.audit.Log(ctx, audit.Event{
			Type: audit.EventPasswordChangeFailed, UserID: &user.ID, IP: ip, UserAgent: userAgent,
			Details:  map[string]any{"reason": "incorrect_current_password"},
			Severity: audit.SeverityMedium,
		})
		return fmt.Errorf("%w: current password is incorrect", shared.ErrValidation)
	}
	if next != confirm {
		return fmt.Errorf("%w: new passwords do not match", shared.ErrValidation)
	}
	if errs := PasswordPolicyErrors(next); len(errs) > 0 {
		return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(errs, "; "))
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	s.audit.Log(ctx, audit.Event{
		Type: audit.EventPasswordChanged, UserID: &user.ID, IP: ip, UserAgent: userAgent,
		Severity: audit.SeverityMedium,
	})
	return nil
}

// Profile loads the user together with resolved grants and subscription.
func (s *Service) Profile(ctx context.Context, userID int64) (*User, []string, []string, *Subscription, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	roles, perms, err := s.grants.Snapshot(ctx, userID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sub, err := s.repo.ActiveSubscription(ctx, userID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return user, roles, perms, sub, nil
}

// UserByID loads a single user record.
func (s *Service) UserByID(ctx context.Context, userID int64) (*User, error) {
	return s.repo.FindByID(ctx, userID)
}
