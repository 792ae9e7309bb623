package rbac

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/shared"
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,49}$`)

// Service resolves grants and manages roles and direct permissions. All
// checks read the materialized assignment tables; there is no in-process
// grant cache, so a revocation takes effect on the next request.
type Service struct {
	repo  Repository
	audit *audit.Service
	now   func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, auditSvc *audit.Service) *Service {
	return &Service{repo: repo, audit: auditSvc, now: time.Now}
}

// HasPermission reports whether the user holds the named permission.
// Superadmins pass every check. Otherwise the permission must appear in
// either a direct grant or an active role's permission set.
func (s *Service) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	at := s.now().UTC()
	roles, err := s.repo.RoleNamesForUser(ctx, userID, at)
	if err != nil {
		return false, err
	}
	if containsString(roles, RoleSuperadmin) {
		return true, nil
	}

	direct, err := s.repo.DirectPermissionNames(ctx, userID, at)
	if err != nil {
		return false, err
	}
	if containsString(direct, permission) {
		return true, nil
	}

	viaRoles, err := s.repo.RolePermissionNames(ctx, userID, at)
	if err != nil {
		return false, err
	}
	return containsString(viaRoles, permission), nil
}

// HasRole reports whether the user holds an active assignment of the
// named role.
func (s *Service) HasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	roles, err := s.repo.RoleNamesForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return false, err
	}
	return containsString(roles, roleName), nil
}

// GetPermissions returns the deduplicated union of role and direct
// grants, sorted for stable output.
func (s *Service) GetPermissions(ctx context.Context, userID int64) ([]string, error) {
	at := s.now().UTC()
	viaRoles, err := s.repo.RolePermissionNames(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	direct, err := s.repo.DirectPermissionNames(ctx, userID, at)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(viaRoles)+len(direct))
	merged := make([]string, 0, len(viaRoles)+len(direct))
	for _, name := range append(viaRoles, direct...) {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		merged = append(merged, name)
	}
	sort.Strings(merged)
	return merged, nil
}

// Snapshot resolves the user's current roles and permissions in one
// call. Token minting embeds this snapshot into claims.
func (s *Service) Snapshot(ctx context.Context, userID int64) ([]string, []string, error) {
	roles, err := s.repo.RoleNamesForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, nil, err
	}
	perms, err := s.GetPermissions(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return roles, perms, nil
}

// AssignRoleByName assigns the named role to the user.
func (s *Service) AssignRoleByName(ctx context.Context, userID int64, roleName string, assignedBy *int64) error {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	return s.assign(ctx, userID, role, assignedBy, nil)
}

// AssignRole assigns a role by id with an optional expiry.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64, expiresAt *time.Time) error {
	role, err := s.repo.FindRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	return s.assign(ctx, userID, role, assignedBy, expiresAt)
}

func (s *Service) assign(ctx context.Context, userID int64, role *Role, assignedBy *int64, expiresAt *time.Time) error {
	if !role.IsActive {
		return fmt.Errorf("%w: role %q is inactive", shared.ErrValidation, role.Name)
	}
	if err := s.repo.AssignRole(ctx, UserRole{
		UserID:     userID,
		RoleID:     role.ID,
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
	}); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		Type: audit.EventRoleAssigned, UserID: &userID, Severity: audit.SeverityMedium,
		Details: map[string]any{"role": role.Name, "assigned_by": assignedBy},
	})
	return nil
}

// RemoveRole deactivates a user's role assignment.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64, removedBy *int64) error {
	role, err := s.repo.FindRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		Type: audit.EventRoleRemoved, UserID: &userID, Severity: audit.SeverityMedium,
		Details: map[string]any{"role": role.Name, "removed_by": removedBy},
	})
	return nil
}

// CreateRoleParams collects the fields for a new custom role.
type CreateRoleParams struct {
	Name        string
	DisplayName string
	Description string
	Level       int
}

// CreateRole creates a custom role. System role names are reserved.
func (s *Service) CreateRole(ctx context.Context, params CreateRoleParams, createdBy *int64) (*Role, error) {
	if !roleNamePattern.MatchString(params.Name) {
		return nil, fmt.Errorf("%w: role name must be lowercase alphanumeric, 3-50 chars", shared.ErrValidation)
	}
	role := &Role{
		Name:        params.Name,
		DisplayName: params.DisplayName,
		Description: params.Description,
		Level:       params.Level,
		IsActive:    true,
	}
	if err := s.repo.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.Event{
		Type: audit.EventRoleCreated, UserID: createdBy, Severity: audit.SeverityMedium,
		Details: map[string]any{"role": role.Name, "level": role.Level},
	})
	return role, nil
}

// UpdateRoleParams collects mutable role fields. Nil means unchanged.
type UpdateRoleParams struct {
	DisplayName *string
	Description *string
	Level       *int
	IsActive    *bool
}

// UpdateRole modifies a custom role. System roles and roles with active
// assignments reject modification.
func (s *Service) UpdateRole(ctx context.Context, roleID int64, params UpdateRoleParams, updatedBy *int64) (*Role, error) {
	role, err := s.repo.FindRoleByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystemRole {
		return nil, fmt.Errorf("%w: system role %q cannot be modified", shared.ErrRoleLocked, role.Name)
	}
	count, err := s.repo.ActiveAssignmentCount(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: role %q has %d active assignments", shared.ErrRoleLocked, role.Name, count)
	}

	if params.DisplayName != nil {
		role.DisplayName = *params.DisplayName
	}
	if params.Description != nil {
		role.Description = *params.Description
	}
	if params.Level != nil {
		role.Level = *params.Level
	}
	if params.IsActive != nil {
		role.IsActive = *params.IsActive
	}
	if err := s.repo.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.Event{
		Type: audit.EventRoleModified, UserID: updatedBy, Severity: audit.SeverityMedium,
		Details: map[string]any{"role": role.Name},
	})
	return role, nil
}

// DeleteRole removes a custom role. System roles and roles with active
// assignments are locked against deletion.
func (s *Service) DeleteRole(ctx context.Context, roleID int64, deletedBy *int64) error {
	role, err := s.repo.FindRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return fmt.Errorf("%w: system role %q cannot be deleted", shared.ErrRoleLocked, role.Name)
	}
	count, err := s.repo.ActiveAssignmentCount(ctx, roleID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: role %q has %d active assignments", shared.ErrRoleLocked, role.Name, count)
	}

	if err := s.repo.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		Type: audit.EventRoleModified, UserID: deletedBy, Severity: audit.SeverityMedium,
		Details: map[string]any{"role": role.Name, "deleted": true},
	})
	return nil
}

// ListRoles lists all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissions lists all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GrantPermission records a direct grant of the named permission.
func (s *Service) GrantPermission(ctx context.Context, userID int64, permissionName string, grantedBy *int64, expiresAt *time.Time) error {
	perm, err := s.repo.FindPermissionByName(ctx, permissionName)
	if err != nil {
		return err
	}
	if err := s.repo.GrantPermission(ctx, UserPermission{
		UserID:       userID,
		PermissionID: perm.ID,
		Granted:      true,
		GrantedBy:    grantedBy,
		ExpiresAt:    expiresAt,
	}); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		Type: audit.EventPermissionGranted, UserID: &userID, Severity: audit.SeverityMedium,
		Details: map[string]any{"permission": perm.Name, "granted_by": grantedBy},
	})
	return nil
}

// RevokePermission removes a direct grant. Role-derived permissions are
// unaffected; narrowing those means removing the role.
func (s *Service) RevokePermission(ctx context.Context, userID int64, permissionName string, revokedBy *int64) error {
	perm, err := s.repo.FindPermissionByName(ctx, permissionName)
	if err != nil {
		return err
	}
	if err := s.repo.RevokePermission(ctx, userID, perm.ID); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		Type: audit.EventPermissionRevoked, UserID: &userID, Severity: audit.SeverityMedium,
		Details: map[string]any{"permission": perm.Name, "revoked_by": revokedBy},
	})
	return nil
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
