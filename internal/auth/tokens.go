package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/observability"
	"github.com/jobhunter/jobhunter/internal/shared"
)

// Claim shape is fixed for interoperability with tokens already in the
// wild: JobHunter clients read user_id rather than sub, so both are set.
const (
	DefaultIssuer   = "JobHunter-Platform"
	DefaultAudience = "JobHunter-Users"

	// DefaultAccessTTL is the access token lifetime.
	DefaultAccessTTL = time.Hour
	// DefaultRefreshTTL is the refresh token lifetime.
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Claims carries the JWT payload minted for JobHunter users. Role and
// permission lists are snapshotted at mint time; later grant changes only
// surface on re-issuance.
type Claims struct {
	UserID      int64    `json:"user_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	TokenType   string   `json:"type"`
	jwt.RegisteredClaims
}

// TokenConfig collects signing parameters.
type TokenConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService mints, verifies, refreshes and revokes JWTs. Signing is
// HS256 only; revocation is a durable server-side blacklist keyed by jti.
type TokenService struct {
	repo    Repository
	grants  GrantSource
	audit   *audit.Service
	metrics *observability.Metrics
	logger  *slog.Logger

	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService constructs a TokenService. Metrics may be nil.
func NewTokenService(repo Repository, grants GrantSource, auditSvc *audit.Service, metrics *observability.Metrics, logger *slog.Logger, cfg TokenConfig) *TokenService {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &TokenService{
		repo:       repo,
		grants:     grants,
		audit:      auditSvc,
		metrics:    metrics,
		logger:     logger,
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
}

// AccessTTL exposes the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// Mint signs a token of the given type for the user. Grants are resolved
// now and embedded as a snapshot.
func (s *TokenService) Mint(ctx context.Context, user *User, tokenType TokenType, ttl time.Duration) (string, *Claims, error) {
	if !tokenType.Valid() {
		return "", nil, errors.New("auth: unknown token type")
	}
	if ttl <= 0 {
		ttl = s.accessTTL
		if tokenType == TokenRefresh {
			ttl = s.refreshTTL
		}
	}
	roles, perms, err := s.grants.Snapshot(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	claims := Claims{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Roles:       roles,
		Permissions: perms,
		TokenType:   string(tokenType),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	s.metrics.RecordTokenIssued(string(tokenType))
	return signed, &claims, nil
}

// MintPair issues a fresh access+refresh token pair.
func (s *TokenService) MintPair(ctx context.Context, user *User) (TokenPair, error) {
	access, _, err := s.Mint(ctx, user, TokenAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.Mint(ctx, user, TokenRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// Verify checks signature and expiry, then the revocation list, then that
// the subject still resolves to an active user — in that order. It never
// auto-refreshes.
func (s *TokenService) Verify(ctx context.Context, raw string) (*User, *Claims, error) {
	claims, err := s.parse(raw, true)
	if err != nil {
		if errors.Is(err, shared.ErrTokenExpired) {
			s.metrics.RecordTokenRejected("expired")
		} else {
			s.metrics.RecordTokenRejected("malformed")
		}
		return nil, nil, err
	}

	revoked, err := s.repo.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		s.metrics.RecordTokenRejected("revoked")
		return nil, nil, shared.ErrTokenRevoked
	}

	user, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.metrics.RecordTokenRejected("inactive")
			return nil, nil, shared.ErrUserInactive
		}
		return nil, nil, err
	}
	if !user.IsActive {
		s.metrics.RecordTokenRejected("inactive")
		return nil, nil, shared.ErrUserInactive
	}
	return user, claims, nil
}

// Refresh verifies a refresh token, mints a new pair, and revokes the old
// token's jti. Rotation-on-use: a stolen refresh token is dead the moment
// the legitimate holder refreshes.
func (s *TokenService) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	user, claims, err := s.Verify(ctx, raw)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.TokenType != string(TokenRefresh) {
		return TokenPair{}, shared.ErrTokenMalformed
	}

	pair, err := s.MintPair(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}

	if err := s.Revoke(ctx, claims.ID, user.ID, TokenRefresh, claims.ExpiresAt.Time, "rotated"); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Revoke inserts a blacklist entry for the jti. Safe to call twice.
func (s *TokenService) Revoke(ctx context.Context, jti string, userID int64, tokenType TokenType, expiresAt time.Time, reason string) error {
	return s.repo.InsertRevocation(ctx, Revocation{
		JTI:       jti,
		UserID:    userID,
		TokenType: tokenType,
		ExpiresAt: expiresAt,
		Reason:    reason,
	})
}

// Logout revokes the presented token's jti and records a logout event.
// The token is parsed without expiry validation: logging out with an
// already-expired token still succeeds. Revocation failures are logged
// and swallowed so the caller can always clear local session state.
func (s *TokenService) Logout(ctx context.Context, raw, ip, userAgent string) {
	var userID *int64
	claims, err := s.parse(raw, false)
	if err == nil && claims.ID != "" {
		userID = &claims.UserID
		var expires time.Time
		if claims.ExpiresAt != nil {
			expires = claims.ExpiresAt.Time
		}
		tokenType := TokenType(claims.TokenType)
		if !tokenType.Valid() {
			tokenType = TokenAccess
		}
		if err := s.Revoke(ctx, claims.ID, claims.UserID, tokenType, expires, "logout"); err != nil && s.logger != nil {
			s.logger.Warn("logout revocation failed", slog.Any("error", err))
		}
	}

	s.audit.Log(ctx, audit.Event{
		Type: audit.EventLogout, UserID: userID, IP: ip, UserAgent: userAgent,
		Severity: audit.SeverityLow,
	})
}

func (s *TokenService) parse(raw string, validateExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	}
	if !validateExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, shared.ErrTokenExpired
		}
		return nil, shared.ErrTokenMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, shared.ErrTokenMalformed
	}
	if claims.UserID == 0 && claims.Subject != "" {
		// Tokens minted by older releases carry only sub.
		if id, convErr := strconv.ParseInt(claims.Subject, 10, 64); convErr == nil {
			claims.UserID = id
		}
	}
	if claims.UserID == 0 || claims.ID == "" {
		return nil, shared.ErrTokenMalformed
	}
	return claims, nil
}
