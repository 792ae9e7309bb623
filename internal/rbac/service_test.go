package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/shared"
)

type memoryRBACRepo struct {
	nextRoleID    int64
	nextPermID    int64
	roles         map[int64]*Role
	permissions   map[int64]*Permission
	rolePermNames map[int64][]string
	userRoles     []UserRole
	userPerms     []UserPermission
}

func newMemoryRBACRepo() *memoryRBACRepo {
	return &memoryRBACRepo{
		nextRoleID:    1,
		nextPermID:    1,
		roles:         map[int64]*Role{},
		permissions:   map[int64]*Permission{},
		rolePermNames: map[int64][]string{},
	}
}

func (r *memoryRBACRepo) addRole(role Role) *Role {
	role.ID = r.nextRoleID
	r.nextRoleID++
	r.roles[role.ID] = &role
	return &role
}

func (r *memoryRBACRepo) addPermission(name string) *Permission {
	perm := Permission{ID: r.nextPermID, Name: name}
	r.nextPermID++
	r.permissions[perm.ID] = &perm
	return &perm
}

func (r *memoryRBACRepo) RoleNamesForUser(ctx context.Context, userID int64, at time.Time) ([]string, error) {
	var names []string
	for _, ur := range r.userRoles {
		if ur.UserID != userID || !ur.IsActive {
			continue
		}
		if ur.ExpiresAt != nil && !ur.ExpiresAt.After(at) {
			continue
		}
		role, ok := r.roles[ur.RoleID]
		if !ok || !role.IsActive {
			continue
		}
		names = append(names, role.Name)
	}
	return names, nil
}

func (r *memoryRBACRepo) RolePermissionNames(ctx context.Context, userID int64, at time.Time) ([]string, error) {
	roles, err := r.RoleNamesForUser(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	var names []string
	for roleID, perms := range r.rolePermNames {
		role := r.roles[roleID]
		if role == nil {
			continue
		}
		for _, held := range roles {
			if held == role.Name {
				names = append(names, perms...)
			}
		}
	}
	return names, nil
}

func (r *memoryRBACRepo) DirectPermissionNames(ctx context.Context, userID int64, at time.Time) ([]string, error) {
	var names []string
	for _, up := range r.userPerms {
		if up.UserID != userID || !up.Granted {
			continue
		}
		if up.ExpiresAt != nil && !up.ExpiresAt.After(at) {
			continue
		}
		if perm, ok := r.permissions[up.PermissionID]; ok {
			names = append(names, perm.Name)
		}
	}
	return names, nil
}

func (r *memoryRBACRepo) FindRoleByID(ctx context.Context, id int64) (*Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *role
	return &copied, nil
}

func (r *memoryRBACRepo) FindRoleByName(ctx context.Context, name string) (*Role, error) {
	for _, role := range r.roles {
		if role.Name == name {
			copied := *role
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryRBACRepo) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, *role)
	}
	return out, nil
}

func (r *memoryRBACRepo) CreateRole(ctx context.Context, role *Role) error {
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return shared.ErrDuplicate
		}
	}
	role.ID = r.nextRoleID
	r.nextRoleID++
	copied := *role
	r.roles[role.ID] = &copied
	return nil
}

func (r *memoryRBACRepo) UpdateRole(ctx context.Context, role *Role) error {
	if _, ok := r.roles[role.ID]; !ok {
		return shared.ErrNotFound
	}
	copied := *role
	r.roles[role.ID] = &copied
	return nil
}

func (r *memoryRBACRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := r.roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.roles, id)
	return nil
}

func (r *memoryRBACRepo) ActiveAssignmentCount(ctx context.Context, roleID int64) (int, error) {
	count := 0
	for _, ur := range r.userRoles {
		if ur.RoleID == roleID && ur.IsActive {
			count++
		}
	}
	return count, nil
}

func (r *memoryRBACRepo) AssignRole(ctx context.Context, ur UserRole) error {
	for i := range r.userRoles {
		if r.userRoles[i].UserID == ur.UserID && r.userRoles[i].RoleID == ur.RoleID {
			r.userRoles[i].IsActive = true
			r.userRoles[i].ExpiresAt = ur.ExpiresAt
			return nil
		}
	}
	ur.IsActive = true
	r.userRoles = append(r.userRoles, ur)
	return nil
}

func (r *memoryRBACRepo) RemoveRole(ctx context.Context, userID, roleID int64) error {
	for i := range r.userRoles {
		if r.userRoles[i].UserID == userID && r.userRoles[i].RoleID == roleID && r.userRoles[i].IsActive {
			r.userRoles[i].IsActive = false
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRBACRepo) FindPermissionByName(ctx context.Context, name string) (*Permission, error) {
	for _, perm := range r.permissions {
		if perm.Name == name {
			copied := *perm
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryRBACRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(r.permissions))
	for _, perm := range r.permissions {
		out = append(out, *perm)
	}
	return out, nil
}

func (r *memoryRBACRepo) GrantPermission(ctx context.Context, up UserPermission) error {
	r.userPerms = append(r.userPerms, up)
	return nil
}

func (r *memoryRBACRepo) RevokePermission(ctx context.Context, userID, permissionID int64) error {
	for i := range r.userPerms {
		if r.userPerms[i].UserID == userID && r.userPerms[i].PermissionID == permissionID {
			r.userPerms[i].Granted = false
			return nil
		}
	}
	return shared.ErrNotFound
}

var _ Repository = (*memoryRBACRepo)(nil)

func newTestRBACService(t *testing.T) (*Service, *memoryRBACRepo) {
	t.Helper()
	repo := newMemoryRBACRepo()
	return NewService(repo, audit.NewService(&noopAuditRepo{}, nil)), repo
}

type noopAuditRepo struct{}

func (noopAuditRepo) Insert(ctx context.Context, event audit.Event, at time.Time) error {
	return nil
}

func (noopAuditRepo) Window(ctx context.Context, filters audit.TimelineFilters, offset, limit int) ([]audit.Entry, error) {
	return nil, nil
}

func (noopAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func TestSuperadminPassesEveryCheck(t *testing.T) {
	svc, repo := newTestRBACService(t)
	root := repo.addRole(Role{Name: RoleSuperadmin, IsSystemRole: true, IsActive: true, Level: 100})
	repo.userRoles = append(repo.userRoles, UserRole{UserID: 1, RoleID: root.ID, IsActive: true})

	ok, err := svc.HasPermission(context.Background(), 1, "anything.at_all")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHasPermissionUnionsRoleAndDirectGrants(t *testing.T) {
	svc, repo := newTestRBACService(t)
	seeker := repo.addRole(Role{Name: RoleJobseeker, IsSystemRole: true, IsActive: true, Level: 10})
	repo.rolePermNames = map[int64][]string{seeker.ID: {"jobs.view", "jobs.apply"}}
	repo.userRoles = append(repo.userRoles, UserRole{UserID: 1, RoleID: seeker.ID, IsActive: true})

	perm := repo.addPermission("audit.view")
	repo.userPerms = append(repo.userPerms, UserPermission{UserID: 1, PermissionID: perm.ID, Granted: true})

	for _, name := range []string{"jobs.view", "jobs.apply", "audit.view"} {
		ok, err := svc.HasPermission(context.Background(), 1, name)
		require.NoError(t, err)
		require.True(t, ok, name)
	}

	ok, err := svc.HasPermission(context.Background(), 1, "jobs.delete")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetPermissionsDeduplicatesAndSorts(t *testing.T) {
	svc, repo := newTestRBACService(t)
	seeker := repo.addRole(Role{Name: RoleJobseeker, IsActive: true})
	repo.rolePermNames = map[int64][]string{seeker.ID: {"jobs.view", "jobs.apply"}}
	repo.userRoles = append(repo.userRoles, UserRole{UserID: 1, RoleID: seeker.ID, IsActive: true})

	dup := repo.addPermission("jobs.view")
	repo.userPerms = append(repo.userPerms, UserPermission{UserID: 1, PermissionID: dup.ID, Granted: true})

	perms, err := svc.GetPermissions(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"jobs.apply", "jobs.view"}, perms)
}

func TestExpiredAssignmentsDoNotResolve(t *testing.T) {
	svc, repo := newTestRBACService(t)
	seeker := repo.addRole(Role{Name: RoleJobseeker, IsActive: true})
	repo.rolePermNames = map[int64][]string{seeker.ID: {"jobs.view"}}
	past := time.Now().Add(-time.Hour)
	repo.userRoles = append(repo.userRoles, UserRole{UserID: 1, RoleID: seeker.ID, IsActive: true, ExpiresAt: &past})

	ok, err := svc.HasPermission(context.Background(), 1, "jobs.view")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.HasRole(context.Background(), 1, RoleJobseeker)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAssignRejectsInactiveRole(t *testing.T) {
	svc, repo := newTestRBACService(t)
	dormant := repo.addRole(Role{Name: "dormant_role", IsActive: false})

	err := svc.AssignRole(context.Background(), 1, dormant.ID, nil, nil)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSystemRolesAreLocked(t *testing.T) {
	svc, repo := newTestRBACService(t)
	admin := repo.addRole(Role{Name: RoleAdmin, IsSystemRole: true, IsActive: true})

	display := "Renamed"
	_, err := svc.UpdateRole(context.Background(), admin.ID, UpdateRoleParams{DisplayName: &display}, nil)
	require.ErrorIs(t, err, shared.ErrRoleLocked)

	require.ErrorIs(t, svc.DeleteRole(context.Background(), admin.ID, nil), shared.ErrRoleLocked)
}

func TestUpdateRoleWithActiveAssignmentsIsLocked(t *testing.T) {
	svc, repo := newTestRBACService(t)
	custom := repo.addRole(Role{Name: "recruiter_lead", IsActive: true})
	repo.userRoles = append(repo.userRoles, UserRole{UserID: 1, RoleID: custom.ID, IsActive: true})

	level := 42
	_, err := svc.UpdateRole(context.Background(), custom.ID, UpdateRoleParams{Level: &level}, nil)
	require.ErrorIs(t, err, shared.ErrRoleLocked)
	require.Equal(t, 0, repo.roles[custom.ID].Level)

	require.NoError(t, svc.RemoveRole(context.Background(), 1, custom.ID, nil))
	updated, err := svc.UpdateRole(context.Background(), custom.ID, UpdateRoleParams{Level: &level}, nil)
	require.NoError(t, err)
	require.Equal(t, 42, updated.Level)
}

func TestDeleteRoleWithActiveAssignmentsIsLocked(t *testing.T) {
	svc, repo := newTestRBACService(t)
	custom := repo.addRole(Role{Name: "recruiter_lead", IsActive: true})
	repo.userRoles = append(repo.userRoles, UserRole{UserID: 1, RoleID: custom.ID, IsActive: true})

	require.ErrorIs(t, svc.DeleteRole(context.Background(), custom.ID, nil), shared.ErrRoleLocked)

	require.NoError(t, svc.RemoveRole(context.Background(), 1, custom.ID, nil))
	require.NoError(t, svc.DeleteRole(context.Background(), custom.ID, nil))
}

func TestCreateRoleValidatesName(t *testing.T) {
	svc, _ := newTestRBACService(t)

	_, err := svc.CreateRole(context.Background(), CreateRoleParams{Name: "Bad Name"}, nil)
	require.ErrorIs(t, err, shared.ErrValidation)

	role, err := svc.CreateRole(context.Background(), CreateRoleParams{Name: "hiring_manager", DisplayName: "Hiring Manager", Level: 20}, nil)
	require.NoError(t, err)
	require.True(t, role.IsActive)
	require.NotZero(t, role.ID)
}

func TestDirectGrantAndRevoke(t *testing.T) {
	svc, repo := newTestRBACService(t)
	repo.addPermission("reports.view")

	require.NoError(t, svc.GrantPermission(context.Background(), 1, "reports.view", nil, nil))
	ok, err := svc.HasPermission(context.Background(), 1, "reports.view")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.RevokePermission(context.Background(), 1, "reports.view", nil))
	ok, err = svc.HasPermission(context.Background(), 1, "reports.view")
	require.NoError(t, err)
	require.False(t, ok)
}
