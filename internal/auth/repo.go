package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobhunter/jobhunter/internal/shared"
)

// CreateUserParams collects the fields persisted at registration.
type CreateUserParams struct {
	UUID         string
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
}

// Repository defines persistence operations for the credential store and
// the token revocation list.
type Repository interface {
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, params CreateUserParams) (*User, error)
	RecordFailure(ctx context.Context, userID int64, attempts int, lockedUntil *time.Time) error
	RecordSuccess(ctx context.Context, userID int64, at time.Time) error
	UpdatePassword(ctx context.Context, userID int64, hash string) error
	InsertRevocation(ctx context.Context, rev Revocation) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	ActiveSubscription(ctx context.Context, userID int64) (*Subscription, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, uuid, username, email, password_hash,
	COALESCE(first_name, ''), COALESCE(last_name, ''), is_active, email_verified,
	failed_login_count, locked_until, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.UUID, &user.Username, &user.Email, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.IsActive, &user.EmailVerified,
		&user.FailedLoginCount, &user.LockedUntil, &user.LastLogin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByIdentifier fetches a user matching either username or email.
func (r *PGRepository) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE username = $1 OR email = $1`, identifier)
	return scanUser(row)
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE id = $1`, id)
	return scanUser(row)
}

// Create inserts a new user. Unique violations surface as ErrDuplicate so
// the handler can answer 409.
func (r *PGRepository) Create(ctx context.Context, params CreateUserParams) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO auth_users (uuid, username, email, password_hash, first_name, last_name, is_active, email_verified, failed_login_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, FALSE, 0, NOW(), NOW())
		 RETURNING `+userColumns,
		params.UUID, params.Username, params.Email, params.PasswordHash, params.FirstName, params.LastName)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, shared.ErrDuplicate
		}
		return nil, err
	}
	return user, nil
}

// RecordFailure stores the failed-login counter and optional lockout.
func (r *PGRepository) RecordFailure(ctx context.Context, userID int64, attempts int, lockedUntil *time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE auth_users SET failed_login_count = $2, locked_until = $3, updated_at = NOW() WHERE id = $1`,
		userID, attempts, lockedUntil)
	return err
}

// RecordSuccess resets the failure counter and stamps last_login.
func (r *PGRepository) RecordSuccess(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE auth_users SET failed_login_count = 0, locked_until = NULL, last_login = $2, updated_at = NOW() WHERE id = $1`,
		userID, at)
	return err
}

// UpdatePassword replaces the stored hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE auth_users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		userID, hash)
	return err
}

// InsertRevocation adds a blacklist entry. The insert is idempotent: a
// concurrent logout and refresh rotation of the same token converge on a
// single row through the unique jti constraint.
func (r *PGRepository) InsertRevocation(ctx context.Context, rev Revocation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO token_revocations (jti, user_id, token_type, expires_at, reason, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		rev.JTI, rev.UserID, string(rev.TokenType), rev.ExpiresAt, rev.Reason)
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

// IsRevoked reports whether a jti appears on the blacklist.
func (r *PGRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM token_revocations WHERE jti = $1)`, jti).Scan(&exists)
	return exists, err
}

// ActiveSubscription returns the user's active subscription, nil when none.
func (r *PGRepository) ActiveSubscription(ctx context.Context, userID int64) (*Subscription, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT p.name, s.status, s.expires_at
		 FROM user_subscriptions s
		 JOIN subscription_plans p ON p.id = s.plan_id
		 WHERE s.user_id = $1 AND s.status = $2
		 ORDER BY s.started_at DESC
		 LIMIT 1`,
		userID, string(SubscriptionActive))
	var sub Subscription
	if err := row.Scan(&sub.Plan, &sub.Status, &sub.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

var _ Repository = (*PGRepository)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
