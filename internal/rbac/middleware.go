package rbac

import (
	"log/slog"
	"net/http"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/platform/httpx"
	"github.com/jobhunter/jobhunter/internal/shared"
)

// Guard builds authorization middleware over the grant resolver.
type Guard struct {
	logger  *slog.Logger
	service *Service
	audit   *audit.Service
}

// NewGuard constructs a Guard instance.
func NewGuard(logger *slog.Logger, service *Service, auditSvc *audit.Service) *Guard {
	return &Guard{logger: logger, service: service, audit: auditSvc}
}

// RequirePermission rejects requests whose user does not hold the named
// permission. Resolution always hits the grant tables rather than the
// token's embedded snapshot, so revocations bite on the next request.
func (g *Guard) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := shared.RequestFromContext(r.Context())
			if !rc.Authenticated() {
				httpx.Error(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
				return
			}

			allowed, err := g.service.HasPermission(r.Context(), rc.UserID, permission)
			if err != nil {
				g.logger.Error("permission check failed", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if !allowed {
				g.audit.Log(r.Context(), audit.Event{
					Type: audit.EventUnauthorizedAccess, UserID: &rc.UserID,
					IP: rc.IP, UserAgent: rc.UserAgent, Severity: audit.SeverityMedium,
					Details: map[string]any{"permission": permission, "path": r.URL.Path},
				})
				httpx.RespondError(w, shared.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects requests whose user holds neither the named role
// nor superadmin.
func (g *Guard) RequireRole(roleName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := shared.RequestFromContext(r.Context())
			if !rc.Authenticated() {
				httpx.Error(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
				return
			}

			roles, err := g.service.repo.RoleNamesForUser(r.Context(), rc.UserID, g.service.now().UTC())
			if err != nil {
				g.logger.Error("role check failed", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if !containsString(roles, roleName) && !containsString(roles, RoleSuperadmin) {
				g.audit.Log(r.Context(), audit.Event{
					Type: audit.EventUnauthorizedAccess, UserID: &rc.UserID,
					IP: rc.IP, UserAgent: rc.UserAgent, Severity: audit.SeverityMedium,
					Details: map[string]any{"role": roleName, "path": r.URL.Path},
				})
				httpx.RespondError(w, shared.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
