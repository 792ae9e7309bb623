package users

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jobhunter/jobhunter/internal/platform/httpx"
	"github.com/jobhunter/jobhunter/internal/rbac"
	"github.com/jobhunter/jobhunter/internal/shared"
)

// Handler manages account administration endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   *rbac.Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *rbac.Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers account administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission("users.view"))
		r.Get("/", h.list)
		r.Get("/{userID}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission("users.edit"))
		r.Post("/{userID}/activate", h.setActive(true))
		r.Post("/{userID}/deactivate", h.setActive(false))
		r.Post("/{userID}/unlock", h.unlock)
	})
}

type accountPayload struct {
	ID            int64      `json:"id"`
	UUID          string     `json:"uuid"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
	IsLocked      bool       `json:"is_locked"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func presentAccount(a *Account, now time.Time) accountPayload {
	return accountPayload{
		ID:            a.ID,
		UUID:          a.UUID,
		Username:      a.Username,
		Email:         a.Email,
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		IsActive:      a.IsActive,
		EmailVerified: a.EmailVerified,
		IsLocked:      a.Locked(now),
		LockedUntil:   a.LockedUntil,
		LastLogin:     a.LastLogin,
		CreatedAt:     a.CreatedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := ListFilters{Search: query.Get("search")}
	if v := query.Get("page"); v != "" {
		filters.Page, _ = strconv.Atoi(v)
	}
	if v := query.Get("page_size"); v != "" {
		filters.PageSize, _ = strconv.Atoi(v)
	}
	if v := query.Get("active"); v != "" {
		active := v == "true"
		filters.Active = &active
	}

	accounts, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	now := time.Now().UTC()
	payload := make([]accountPayload, 0, len(accounts))
	for i := range accounts {
		payload = append(payload, presentAccount(&accounts[i], now))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": payload})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, presentAccount(account, time.Now().UTC()))
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.service.SetActive(r.Context(), id, active, actorID(r)); err != nil {
			httpx.RespondError(w, err)
			return
		}
		message := "User deactivated"
		if active {
			message = "User activated"
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"message": message})
	}
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Unlock(r.Context(), id, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Account unlocked"})
}

func actorID(r *http.Request) *int64 {
	return shared.RequestFromContext(r.Context()).UserIDPtr()
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user id", shared.ErrValidation)
	}
	return id, nil
}
