package shared

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// CSRFSessionKey is the key used to persist the anonymous fallback token.
	CSRFSessionKey = "csrf_token"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader is the header name carrying the CSRF token.
	CSRFHeader = "X-CSRF-Token"

	csrfTokenTTL = time.Hour
)

// CSRFRecord is a persisted one-time token.
type CSRFRecord struct {
	Token     string
	UserID    *int64
	SessionID string
	IP        string
	UserAgent string
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// CSRFStore persists one-time tokens.
type CSRFStore interface {
	Insert(ctx context.Context, rec CSRFRecord) error
	Find(ctx context.Context, token string) (*CSRFRecord, error)
	MarkUsed(ctx context.Context, token string, at time.Time) (bool, error)
}

// CSRFManager issues and consumes single-use CSRF tokens. Tokens issued to
// an authenticated user or a session are persisted; anonymous flows fall
// back to a token held in the session itself.
type CSRFManager struct {
	store CSRFStore
	now   func() time.Time
}

// NewCSRFManager returns a CSRFManager backed by the given store.
func NewCSRFManager(store CSRFStore) *CSRFManager {
	return &CSRFManager{store: store, now: time.Now}
}

// Generate mints a 32-byte URL-safe token, persists it with a one hour
// expiry and returns it.
func (m *CSRFManager) Generate(ctx context.Context, userID *int64, sessionID, ip, userAgent string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	rec := CSRFRecord{
		Token:     token,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ip,
		UserAgent: userAgent,
		ExpiresAt: m.now().Add(csrfTokenTTL),
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		return "", err
	}
	return token, nil
}

// Validate consumes a token. It fails when the token is absent, expired,
// already used, or bound to a different user or session. On success the
// token is marked used and can never validate again.
func (m *CSRFManager) Validate(ctx context.Context, token string, userID *int64, sessionID string) error {
	if token == "" {
		return ErrCSRFViolation
	}
	rec, err := m.store.Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrCSRFViolation
		}
		return err
	}
	now := m.now()
	if now.After(rec.ExpiresAt) || rec.UsedAt != nil {
		return ErrCSRFViolation
	}
	if userID != nil && (rec.UserID == nil || *rec.UserID != *userID) {
		return ErrCSRFViolation
	}
	if sessionID != "" && rec.SessionID != "" && rec.SessionID != sessionID {
		return ErrCSRFViolation
	}
	// The conditional update is the single-use gate: a concurrent validation
	// of the same token loses the race and fails here.
	consumed, err := m.store.MarkUsed(ctx, token, now)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrCSRFViolation
	}
	return nil
}

// EnsureSessionToken returns the anonymous fallback token stored in the
// session, generating one when absent.
func (m *CSRFManager) EnsureSessionToken(sess *Session) (string, error) {
	if sess == nil {
		return "", errors.New("session missing")
	}
	if token := sess.Get(CSRFSessionKey); token != "" {
		return token, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	sess.Set(CSRFSessionKey, token)
	return token, nil
}

// VerifySessionToken compares a supplied token against the session copy.
func (m *CSRFManager) VerifySessionToken(sess *Session, token string) error {
	if sess == nil || token == "" {
		return ErrCSRFViolation
	}
	expected := sess.Get(CSRFSessionKey)
	if expected == "" || !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrCSRFViolation
	}
	return nil
}

// PGCSRFStore implements CSRFStore on PostgreSQL.
type PGCSRFStore struct {
	pool *pgxpool.Pool
}

// NewPGCSRFStore constructs the store.
func NewPGCSRFStore(pool *pgxpool.Pool) *PGCSRFStore {
	return &PGCSRFStore{pool: pool}
}

// Insert persists a fresh token.
func (s *PGCSRFStore) Insert(ctx context.Context, rec CSRFRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO csrf_tokens (token, user_id, session_id, ip_address, user_agent, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		rec.Token, rec.UserID, nullableText(rec.SessionID), nullableText(rec.IP), nullableText(rec.UserAgent), rec.ExpiresAt)
	return err
}

// Find fetches a token row.
func (s *PGCSRFStore) Find(ctx context.Context, token string) (*CSRFRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT token, user_id, COALESCE(session_id, ''), expires_at, used_at FROM csrf_tokens WHERE token = $1`,
		token)
	var rec CSRFRecord
	if err := row.Scan(&rec.Token, &rec.UserID, &rec.SessionID, &rec.ExpiresAt, &rec.UsedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// MarkUsed sets used_at once; returns false when the token was already spent.
func (s *PGCSRFStore) MarkUsed(ctx context.Context, token string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE csrf_tokens SET used_at = $1 WHERE token = $2 AND used_at IS NULL`,
		at, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

var _ CSRFStore = (*PGCSRFStore)(nil)

func nullableText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
