package auth

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/jobhunter/jobhunter/internal/platform/httpx"
	"github.com/jobhunter/jobhunter/internal/shared"
)

// Handler exposes the authentication surface under /auth.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	tokens   *TokenService
	csrf     *shared.CSRFManager
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, tokens *TokenService, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		tokens:   tokens,
		csrf:     csrf,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/register", h.register)
	r.Post("/logout", h.logout)
	r.Post("/refresh", h.refresh)
	r.Post("/verify-token", h.verifyToken)
	r.Get("/profile", h.profile)
	r.Post("/change-password", h.changePassword)
	r.Get("/csrf-token", h.csrfToken)
	r.Get("/health", h.health)
}

type userPayload struct {
	ID            int64      `json:"id"`
	UUID          string     `json:"uuid"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func presentUser(u *User) userPayload {
	return userPayload{
		ID:            u.ID,
		UUID:          u.UUID,
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
		LastLogin:     u.LastLogin,
		CreatedAt:     u.CreatedAt,
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenEnvelope struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         userPayload `json:"user"`
	CSRFToken    string      `json:"csrf_token,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: username and password are required", shared.ErrValidation))
		return
	}

	ip, userAgent := clientIP(r), r.UserAgent()
	user, err := h.service.Authenticate(r.Context(), req.Username, req.Password, ip, userAgent)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	pair, err := h.tokens.MintPair(r.Context(), user)
	if err != nil {
		h.logger.Error("token mint failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.SetUser(fmt.Sprintf("%d", user.ID))
	}

	httpx.JSON(w, http.StatusOK, tokenEnvelope{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		User:         presentUser(user),
		CSRFToken:    h.issueCSRF(r, user.ID),
	})
}

type registerRequest struct {
	Username        string `json:"username" validate:"required"`
	Email           string `json:"email" validate:"required"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	UserType        string `json:"user_type"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: missing required fields", shared.ErrValidation))
		return
	}

	ip, userAgent := clientIP(r), r.UserAgent()
	user, err := h.service.Register(r.Context(), RegisterParams{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		UserType:        req.UserType,
	}, ip, userAgent)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	pair, err := h.tokens.MintPair(r.Context(), user)
	if err != nil {
		h.logger.Error("token mint failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, tokenEnvelope{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		User:         presentUser(user),
		CSRFToken:    h.issueCSRF(r, user.ID),
	})
}

// logout always answers 200: the client is clearing local state either
// way, and a failed revocation is not something it can act on.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if raw := bearerToken(r); raw != "" {
		h.tokens.Logout(r.Context(), raw, clientIP(r), r.UserAgent())
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.SetUser("")
		sess.Delete(shared.CSRFSessionKey)
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: refresh_token is required", shared.ErrValidation))
		return
	}

	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    pair.ExpiresIn,
	})
}

type verifyTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) verifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: token is required", shared.ErrValidation))
		return
	}

	user, claims, err := h.tokens.Verify(r.Context(), req.Token)
	if err != nil {
		httpx.JSON(w, http.StatusOK, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"valid":       true,
		"user_id":     user.ID,
		"username":    user.Username,
		"type":        claims.TokenType,
		"roles":       claims.Roles,
		"permissions": claims.Permissions,
		"expires_at":  claims.ExpiresAt.Time,
	})
}

type profileResponse struct {
	User         userPayload    `json:"user"`
	Roles        []string       `json:"roles"`
	Permissions  []string       `json:"permissions"`
	Subscription map[string]any `json:"subscription,omitempty"`
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	rc := shared.RequestFromContext(r.Context())
	if !rc.Authenticated() {
		httpx.RespondError(w, shared.ErrTokenMalformed)
		return
	}

	user, roles, perms, sub, err := h.service.Profile(r.Context(), rc.UserID)
	if err != nil {
		h.logger.Error("profile lookup failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	resp := profileResponse{
		User:        presentUser(user),
		Roles:       roles,
		Permissions: perms,
	}
	if sub != nil {
		resp.Subscription = map[string]any{
			"plan":       sub.Plan,
			"status":     string(sub.Status),
			"expires_at": sub.ExpiresAt,
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	rc := shared.RequestFromContext(r.Context())
	if !rc.Authenticated() {
		httpx.RespondError(w, shared.ErrTokenMalformed)
		return
	}

	var req changePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: all password fields are required", shared.ErrValidation))
		return
	}

	user, err := h.service.UserByID(r.Context(), rc.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword, req.ConfirmPassword, clientIP(r), r.UserAgent()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

// csrfToken hands anonymous clients the session-bound fallback token so
// form flows like login and register can pass the CSRF stage.
func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Error(w, http.StatusInternalServerError, "system_error", "An internal error occurred")
		return
	}
	token, err := h.csrf.EnsureSessionToken(sess)
	if err != nil {
		h.logger.Error("csrf session token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "auth",
	})
}

// issueCSRF mints a database-backed CSRF token for the user. Failure is
// non-fatal: the client can fall back to the session token.
func (h *Handler) issueCSRF(r *http.Request, userID int64) string {
	sessionID := ""
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sessionID = sess.ID
	}
	token, err := h.csrf.Generate(r.Context(), &userID, sessionID, clientIP(r), r.UserAgent())
	if err != nil {
		h.logger.Warn("csrf token issue failed", slog.Any("error", err))
		return ""
	}
	return token
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
