package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobhunter/jobhunter/internal/platform/db"
	"github.com/jobhunter/jobhunter/internal/shared"
)

// Repository defines persistence operations for roles, permissions and
// grant resolution.
type Repository interface {
	RoleNamesForUser(ctx context.Context, userID int64, at time.Time) ([]string, error)
	RolePermissionNames(ctx context.Context, userID int64, at time.Time) ([]string, error)
	DirectPermissionNames(ctx context.Context, userID int64, at time.Time) ([]string, error)

	FindRoleByID(ctx context.Context, id int64) (*Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, id int64) error
	ActiveAssignmentCount(ctx context.Context, roleID int64) (int, error)

	AssignRole(ctx context.Context, ur UserRole) error
	RemoveRole(ctx context.Context, userID, roleID int64) error

	FindPermissionByName(ctx context.Context, name string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GrantPermission(ctx context.Context, up UserPermission) error
	RevokePermission(ctx context.Context, userID, permissionID int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// RoleNamesForUser lists the names of the user's active, unexpired role
// assignments.
func (r *PGRepository) RoleNamesForUser(ctx context.Context, userID int64, at time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ro.name
		 FROM user_roles ur
		 JOIN roles ro ON ro.id = ur.role_id
		 WHERE ur.user_id = $1 AND ur.is_active AND ro.is_active
		   AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		 ORDER BY ro.level DESC, ro.name`,
		userID, at)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// RolePermissionNames lists permissions reachable through the user's
// active role assignments.
func (r *PGRepository) RolePermissionNames(ctx context.Context, userID int64, at time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT p.name
		 FROM user_roles ur
		 JOIN roles ro ON ro.id = ur.role_id
		 JOIN role_permissions rp ON rp.role_id = ro.id
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE ur.user_id = $1 AND ur.is_active AND ro.is_active
		   AND (ur.expires_at IS NULL OR ur.expires_at > $2)`,
		userID, at)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// DirectPermissionNames lists unexpired per-user grants. Only granted
// rows are considered; the grant model is additive.
func (r *PGRepository) DirectPermissionNames(ctx context.Context, userID int64, at time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.name
		 FROM user_permissions up
		 JOIN permissions p ON p.id = up.permission_id
		 WHERE up.user_id = $1 AND up.granted
		   AND (up.expires_at IS NULL OR up.expires_at > $2)`,
		userID, at)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

const roleColumns = `id, name, COALESCE(display_name, ''), COALESCE(description, ''),
	level, is_system_role, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description,
		&role.Level, &role.IsSystemRole, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// FindRoleByID fetches a role by primary key.
func (r *PGRepository) FindRoleByID(ctx context.Context, id int64) (*Role, error) {
	return scanRole(r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// FindRoleByName fetches a role by its unique name.
func (r *PGRepository) FindRoleByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

// ListRoles lists every role ordered by level.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles ORDER BY level DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// CreateRole inserts a new custom role.
func (r *PGRepository) CreateRole(ctx context.Context, role *Role) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, display_name, description, level, is_system_role, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, FALSE, TRUE, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		role.Name, role.DisplayName, role.Description, role.Level).
		Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return shared.ErrDuplicate
	}
	return err
}

// UpdateRole persists mutable role fields. The assignment check and the
// update run in one transaction so a concurrent assignment cannot slip
// between them.
func (r *PGRepository) UpdateRole(ctx context.Context, role *Role) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND is_active`, role.ID).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return shared.ErrRoleLocked
		}
		tag, err := tx.Exec(ctx,
			`UPDATE roles SET display_name = $2, description = $3, level = $4, is_active = $5, updated_at = NOW()
			 WHERE id = $1`,
			role.ID, role.DisplayName, role.Description, role.Level, role.IsActive)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// DeleteRole removes a role row. The assignment check and the delete run
// in one transaction so a concurrent assignment cannot slip between them.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND is_active`, id).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return shared.ErrRoleLocked
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// ActiveAssignmentCount counts users currently holding the role.
func (r *PGRepository) ActiveAssignmentCount(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND is_active`, roleID).Scan(&count)
	return count, err
}

// AssignRole records a role assignment. Re-assigning reactivates the
// existing row instead of stacking duplicates.
func (r *PGRepository) AssignRole(ctx context.Context, ur UserRole) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, expires_at, is_active)
		 VALUES ($1, $2, $3, NOW(), $4, TRUE)
		 ON CONFLICT (user_id, role_id) DO UPDATE
		 SET is_active = TRUE, assigned_by = EXCLUDED.assigned_by,
		     assigned_at = NOW(), expires_at = EXCLUDED.expires_at`,
		ur.UserID, ur.RoleID, ur.AssignedBy, ur.ExpiresAt)
	return err
}

// RemoveRole deactivates an assignment. The row stays for audit history.
func (r *PGRepository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_roles SET is_active = FALSE WHERE user_id = $1 AND role_id = $2 AND is_active`,
		userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindPermissionByName fetches a permission by its unique name.
func (r *PGRepository) FindPermissionByName(ctx context.Context, name string) (*Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, resource, action, COALESCE(description, ''), created_at
		 FROM permissions WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListPermissions lists every permission ordered by resource then action.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, resource, action, COALESCE(description, ''), created_at
		 FROM permissions ORDER BY resource, action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GrantPermission records a direct per-user grant, refreshing any
// existing row for the same pair.
func (r *PGRepository) GrantPermission(ctx context.Context, up UserPermission) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_permissions (user_id, permission_id, granted, granted_by, granted_at, expires_at)
		 VALUES ($1, $2, TRUE, $3, NOW(), $4)
		 ON CONFLICT (user_id, permission_id) DO UPDATE
		 SET granted = TRUE, granted_by = EXCLUDED.granted_by,
		     granted_at = NOW(), expires_at = EXCLUDED.expires_at`,
		up.UserID, up.PermissionID, up.GrantedBy, up.ExpiresAt)
	return err
}

// RevokePermission deletes a direct grant.
func (r *PGRepository) RevokePermission(ctx context.Context, userID, permissionID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`,
		userID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
