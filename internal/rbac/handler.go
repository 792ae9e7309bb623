package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/jobhunter/jobhunter/internal/platform/httpx"
	"github.com/jobhunter/jobhunter/internal/shared"
)

// Handler exposes role and permission administration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    *Guard
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *Guard) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		guard:    guard,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers role and permission routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.With(h.guard.RequirePermission("roles.view")).Get("/", h.listRoles)
		r.With(h.guard.RequirePermission("roles.create")).Post("/", h.createRole)
		r.With(h.guard.RequirePermission("roles.update")).Put("/{roleID}", h.updateRole)
		r.With(h.guard.RequirePermission("roles.delete")).Delete("/{roleID}", h.deleteRole)
		r.With(h.guard.RequirePermission("roles.assign")).Post("/{roleID}/assign", h.assignRole)
		r.With(h.guard.RequirePermission("roles.assign")).Post("/{roleID}/remove", h.removeRole)
	})
	r.Route("/permissions", func(r chi.Router) {
		r.With(h.guard.RequirePermission("permissions.view")).Get("/", h.listPermissions)
		r.With(h.guard.RequirePermission("permissions.grant")).Post("/grant", h.grantPermission)
		r.With(h.guard.RequirePermission("permissions.grant")).Post("/revoke", h.revokePermission)
	})
}

type rolePayload struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	Description  string    `json:"description"`
	Level        int       `json:"level"`
	IsSystemRole bool      `json:"is_system_role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func presentRole(role *Role) rolePayload {
	return rolePayload{
		ID:           role.ID,
		Name:         role.Name,
		DisplayName:  role.DisplayName,
		Description:  role.Description,
		Level:        role.Level,
		IsSystemRole: role.IsSystemRole,
		IsActive:     role.IsActive,
		CreatedAt:    role.CreatedAt,
	}
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	payload := make([]rolePayload, 0, len(roles))
	for i := range roles {
		payload = append(payload, presentRole(&roles[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": payload})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Level       int    `json:"level" validate:"gte=0,lte=99"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: name is required and level must be 0-99", shared.ErrValidation))
		return
	}

	role, err := h.service.CreateRole(r.Context(), CreateRoleParams{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Level:       req.Level,
	}, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, presentRole(role))
}

type updateRoleRequest struct {
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
	Level       *int    `json:"level"`
	IsActive    *bool   `json:"is_active"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	role, err := h.service.UpdateRole(r.Context(), roleID, UpdateRoleParams{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Level:       req.Level,
		IsActive:    req.IsActive,
	}, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, presentRole(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), roleID, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Role deleted"})
}

type assignRoleRequest struct {
	UserID    int64      `json:"user_id" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: user_id is required", shared.ErrValidation))
		return
	}

	if err := h.service.AssignRole(r.Context(), req.UserID, roleID, actorID(r), req.ExpiresAt); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Role assigned"})
}

type removeRoleRequest struct {
	UserID int64 `json:"user_id" validate:"required"`
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req removeRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: user_id is required", shared.ErrValidation))
		return
	}

	if err := h.service.RemoveRole(r.Context(), req.UserID, roleID, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Role removed"})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(perms))
	for _, p := range perms {
		payload = append(payload, map[string]any{
			"id":          p.ID,
			"name":        p.Name,
			"resource":    p.Resource,
			"action":      p.Action,
			"description": p.Description,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": payload})
}

type grantPermissionRequest struct {
	UserID     int64      `json:"user_id" validate:"required"`
	Permission string     `json:"permission" validate:"required"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req grantPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: user_id and permission are required", shared.ErrValidation))
		return
	}

	if err := h.service.GrantPermission(r.Context(), req.UserID, req.Permission, actorID(r), req.ExpiresAt); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Permission granted"})
}

type revokePermissionRequest struct {
	UserID     int64  `json:"user_id" validate:"required"`
	Permission string `json:"permission" validate:"required"`
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	var req revokePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: user_id and permission are required", shared.ErrValidation))
		return
	}

	if err := h.service.RevokePermission(r.Context(), req.UserID, req.Permission, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Permission revoked"})
}

func actorID(r *http.Request) *int64 {
	return shared.RequestFromContext(r.Context()).UserIDPtr()
}

func pathID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, param)
	}
	return id, nil
}
