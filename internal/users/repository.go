package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobhunter/jobhunter/internal/shared"
)

// ListFilters narrows the account listing.
type ListFilters struct {
	Search   string
	Active   *bool
	Page     int
	PageSize int
}

// RepositoryPort defines data access for account administration.
type RepositoryPort interface {
	List(ctx context.Context, filters ListFilters) ([]Account, error)
	FindByID(ctx context.Context, id int64) (*Account, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Unlock(ctx context.Context, id int64) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const accountColumns = `id, uuid, username, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
	is_active, email_verified, failed_login_count, locked_until, last_login, created_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.UUID, &a.Username, &a.Email, &a.FirstName, &a.LastName,
		&a.IsActive, &a.EmailVerified, &a.FailedLoginCount, &a.LockedUntil, &a.LastLogin, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// List returns accounts matching the filters, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Account, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+`
		 FROM auth_users
		 WHERE ($1 = '' OR username ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%')
		   AND ($2::boolean IS NULL OR is_active = $2)
		 ORDER BY created_at DESC
		 OFFSET $3 LIMIT $4`,
		filters.Search, filters.Active, (filters.Page-1)*filters.PageSize, filters.PageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// FindByID fetches one account.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM auth_users WHERE id = $1`, id))
}

// SetActive toggles the account's active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE auth_users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Unlock clears the lockout and the failure counter.
func (r *Repository) Unlock(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE auth_users SET locked_until = NULL, failed_login_count = 0, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)
