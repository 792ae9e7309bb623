// Package rbac resolves role and permission grants for JobHunter users.
package rbac

import "time"

// System role names seeded by migrations. System roles cannot be renamed
// or deleted through the API.
const (
	RoleSuperadmin  = "superadmin"
	RoleAdmin       = "admin"
	RoleJobseeker   = "jobseeker"
	RoleConsultancy = "consultancy"
)

// Role is a named bundle of permissions with an ordering level. Higher
// level means broader authority; superadmin sits at the top and passes
// every permission check without consulting grants.
type Role struct {
	ID           int64
	Name         string
	DisplayName  string
	Description  string
	Level        int
	IsSystemRole bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Permission is a single grantable capability named resource.action,
// for example jobs.create or audit.view.
type Permission struct {
	ID          int64
	Name        string
	Resource    string
	Action      string
	Description string
	CreatedAt   time.Time
}

// UserRole links a user to a role. Assignments can carry an expiry and
// are soft-deactivated rather than deleted.
type UserRole struct {
	ID         int64
	UserID     int64
	RoleID     int64
	AssignedBy *int64
	AssignedAt time.Time
	ExpiresAt  *time.Time
	IsActive   bool
}

// UserPermission is a direct per-user grant layered on top of role
// grants. Only granted=true rows widen access; the model is additive.
type UserPermission struct {
	ID           int64
	UserID       int64
	PermissionID int64
	Granted      bool
	GrantedBy    *int64
	GrantedAt    time.Time
	ExpiresAt    *time.Time
}
