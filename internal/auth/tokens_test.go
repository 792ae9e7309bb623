package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/observability"
	"github.com/jobhunter/jobhunter/internal/shared"
)

func newTestTokenService(t *testing.T, repo *memoryAuthRepo) (*TokenService, *recordingAuditRepo) {
	t.Helper()
	events := &recordingAuditRepo{}
	svc := NewTokenService(repo, &stubGrants{
		roles: []string{"jobseeker"},
		perms: []string{"jobs.view"},
	}, audit.NewService(events, nil), nil, nil, TokenConfig{Secret: "test-secret"})
	return svc, events
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	repo := newMemoryAuthRepo()
	user := seedUser(t, repo, "alice", "Sup3r$ecret")
	svc, _ := newTestTokenService(t, repo)

	raw, claims, err := svc.Mint(context.Background(), user, TokenAccess, 0)
	require.NoError(t, err)
	require.NotEmpty(t, claims.ID)
	require.Equal(t, []string{"jobseeker"}, claims.Roles)
	require.Equal(t, []string{"jobs.view"}, claims.Permissions)

	got, gotClaims, err := svc.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.Equal(t, user.ID, gotClaims.UserID)
	require.Equal(t, string(TokenAccess), gotClaims.TokenType)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	repo := newMemoryAuthRepo()
	user := seedUser(t, repo, "alice", "Sup3r$ecret")
	svc, _ := newTestTokenService(t, repo)

	base := time.Now().UTC()
	svc.now = func() time.Time { return base.Add(-2 * time.Hour) }
	raw, _, err := svc.Mint(context.Background(), user, TokenAccess, time.Hour)
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	_, _, err = svc.Verify(context.Background(), raw)
	require.ErrorIs(t, err, shared.ErrTokenExpired)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc, _ := newTestTokenService(t, repo)

	_, _, err := svc.Verify(context.Background(), "not.a.token")
	require.ErrorIs(t, err, shared.ErrTokenMalformed)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	repo := newMemoryAuthRepo()
	user := seedUser(t, repo, "alice", "Sup3r$ecret")
	other := NewTokenService(repo, &stubGrants{}, audit.NewService(&recordingAuditRepo{}, nil), nil, nil, TokenConfig{Secret: "other-secret"})
	raw, _, err := other.Mint(context.Background(), user, TokenAccess, 0)
	require.NoError(t, err)

	svc, _ := newTestTokenService(t, repo)
	_, _, err = svc.Verify(context.Background(), raw)
	require.ErrorIs(t, err, shared.ErrTokenMalformed)
}

func TestVerifyChecksRevocationBeforeUser(t *testing.T) {
	repo := newMemoryAuthRepo()
	user := seedUser(t, repo, "alice", "Sup3r$ecret")
	svc, _ := newTestTokenService(t, repo)

	raw, claims, err := svc.Mint(context.Background(), user, TokenAccess, 0)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), claims.ID, user.ID, TokenAccess, claims.ExpiresAt.Time, "test"))
	_, _, err = svc.Verify(context.Background(), raw)
	require.ErrorIs(t, err, shared.ErrTokenRevoked)
}

func TestVerifyRejectsInactiveUser(t *testing.T) {
	repo := newMemoryAuthRepo()
	user := seedUser(t, repo, "alice", "Sup3r$ecret")
	svc, _ := newTestTokenService(t, repo)

	raw, _, err := svc.Mint(context.Background(), user, TokenAccess, 0)
	require.NoError(t, err)

	repo.users[user.ID].IsActive = false
	_, _, err = svc.Verify(context.Background(), raw)
	require.ErrorIs(t, err, shared.ErrUserInactive)
}

func TestRefreshRotatesToken(t *testing.T) {
	repo := newMemoryAuthRepo()
	user := seedUser(t, repo, "alice", "Sup3r$ecret")
	svc, _ := newTestTokenService(t, repo)

	pair, err := svc.MintPair(context.Background(), user)
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The old refresh token died with the rotation.
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, shared.ErrTokenRevoked)

	// The new one still works.
	_, err = svc.Refresh(context.Background(), rotated.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	repo := newMemoryAuthRepo()
	user := seedUser(t, repo, "alice", "Sup3r$ecret")
	svc, _ := newTestTokenService(t, repo)

	raw, _, err := svc.Mint(context.Background(), user, TokenAccess, 0)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), raw)
	require.ErrorIs(t, err, shared.ErrTokenMalformed)
}

func TestLogoutRevokesEvenWhenExpired(t *testing.T) {
	repo := newMemoryAuthRepo()
	user := seedUser(t, repo, "alice", "Sup3r$ecret")
	svc, events := newTestTokenService(t, repo)

	base := time.Now().UTC()
	svc.now = func() time.Time { return base.Add(-2 * time.Hour) }
	raw, claims, err := svc.Mint(context.Background(), user, TokenAccess, time.Hour)
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	svc.Logout(context.Background(), raw, "1.2.3.4", "go-test")

	revoked, err := repo.IsRevoked(context.Background(), claims.ID)
	require.NoError(t, err)
	require.True(t, revoked)
	require.Contains(t, events.types(), audit.EventLogout)
}

func TestLogoutToleratesGarbage(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc, events := newTestTokenService(t, repo)

	svc.Logout(context.Background(), "garbage", "1.2.3.4", "go-test")
	require.Contains(t, events.types(), audit.EventLogout)
}

func TestTokenMetricsCountIssuedAndRejected(t *testing.T) {
	repo := newMemoryAuthRepo()
	user := seedUser(t, repo, "alice", "Sup3r$ecret")
	metrics := observability.NewMetrics()
	svc := NewTokenService(repo, &stubGrants{}, audit.NewService(&recordingAuditRepo{}, nil), metrics, nil, TokenConfig{Secret: "test-secret"})

	raw, claims, err := svc.Mint(context.Background(), user, TokenAccess, 0)
	require.NoError(t, err)

	_, _, err = svc.Verify(context.Background(), "not.a.token")
	require.ErrorIs(t, err, shared.ErrTokenMalformed)

	require.NoError(t, svc.Revoke(context.Background(), claims.ID, user.ID, TokenAccess, claims.ExpiresAt.Time, "test"))
	_, _, err = svc.Verify(context.Background(), raw)
	require.ErrorIs(t, err, shared.ErrTokenRevoked)

	body := scrapeMetrics(t, metrics)
	require.Contains(t, body, `jobhunter_tokens_issued_total{type="access"} 1`)
	require.Contains(t, body, `jobhunter_tokens_rejected_total{reason="malformed"} 1`)
	require.Contains(t, body, `jobhunter_tokens_rejected_total{reason="revoked"} 1`)
}
