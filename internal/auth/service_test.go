package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/observability"
	"github.com/jobhunter/jobhunter/internal/shared"
)

type memoryAuthRepo struct {
	users         map[int64]*User
	revocations   map[string]Revocation
	subscriptions map[int64]*Subscription
	nextID        int64
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{
		users:         make(map[int64]*User),
		revocations:   make(map[string]Revocation),
		subscriptions: make(map[int64]*Subscription),
	}
}

func (r *memoryAuthRepo) addUser(u User) *User {
	r.nextID++
	u.ID = r.nextID
	r.users[u.ID] = &u
	return &u
}

func (r *memoryAuthRepo) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	for _, u := range r.users {
		if u.Username == identifier || u.Email == identifier {
			copied := *u
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryAuthRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memoryAuthRepo) Create(ctx context.Context, params CreateUserParams) (*User, error) {
	for _, u := range r.users {
		if u.Username == params.Username || u.Email == params.Email {
			return nil, shared.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	return r.addUser(User{
		UUID:         params.UUID,
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}), nil
}

func (r *memoryAuthRepo) RecordFailure(ctx context.Context, userID int64, attempts int, lockedUntil *time.Time) error {
	u, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.FailedLoginCount = attempts
	u.LockedUntil = lockedUntil
	return nil
}

func (r *memoryAuthRepo) RecordSuccess(ctx context.Context, userID int64, at time.Time) error {
	u, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.FailedLoginCount = 0
	u.LockedUntil = nil
	u.LastLogin = &at
	return nil
}

func (r *memoryAuthRepo) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	u, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *memoryAuthRepo) InsertRevocation(ctx context.Context, rev Revocation) error {
	if _, exists := r.revocations[rev.JTI]; exists {
		return nil
	}
	r.revocations[rev.JTI] = rev
	return nil
}

func (r *memoryAuthRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok := r.revocations[jti]
	return ok, nil
}

func (r *memoryAuthRepo) ActiveSubscription(ctx context.Context, userID int64) (*Subscription, error) {
	return r.subscriptions[userID], nil
}

type stubGrants struct {
	roles []string
	perms []string
}

func (s *stubGrants) Snapshot(ctx context.Context, userID int64) ([]string, []string, error) {
	return s.roles, s.perms, nil
}

type stubAssigner struct {
	assigned map[int64]string
}

func (s *stubAssigner) AssignRoleByName(ctx context.Context, userID int64, roleName string, assignedBy *int64) error {
	if s.assigned == nil {
		s.assigned = make(map[int64]string)
	}
	s.assigned[userID] = roleName
	return nil
}

type recordingAuditRepo struct {
	events []audit.Event
}

func (r *recordingAuditRepo) Insert(ctx context.Context, event audit.Event, at time.Time) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAuditRepo) Window(ctx context.Context, filters audit.TimelineFilters, offset, limit int) ([]audit.Entry, error) {
	return nil, nil
}

func (r *recordingAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingAuditRepo) types() []audit.EventType {
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService(t *testing.T) (*Service, *memoryAuthRepo, *stubAssigner, *recordingAuditRepo) {
	t.Helper()
	repo := newMemoryAuthRepo()
	assigner := &stubAssigner{}
	events := &recordingAuditRepo{}
	svc := NewService(repo, assigner, &stubGrants{}, audit.NewService(events, nil), nil, nil, ServiceConfig{})
	return svc, repo, assigner, events
}

func seedUser(t *testing.T, repo *memoryAuthRepo, username, password string) *User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	return repo.addUser(User{
		UUID:         "u-" + username,
		Username:     username,
		Email:        username + "@test.local",
		PasswordHash: hash,
		IsActive:     true,
	})
}

func TestAuthenticateSuccess(t *testing.T) {
	svc, repo, _, events := newTestService(t)
	seedUser(t, repo, "alice", "Sup3r$ecret")

	user, err := svc.Authenticate(context.Background(), "alice", "Sup3r$ecret", "1.2.3.4", "go-test")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.NotNil(t, user.LastLogin)
	require.Contains(t, events.types(), audit.EventLoginSuccess)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc, _, _, events := newTestService(t)

	_, err := svc.Authenticate(context.Background(), "ghost", "whatever", "1.2.3.4", "go-test")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	require.Contains(t, events.types(), audit.EventLoginFailed)
}

func TestAuthenticateInactiveUser(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	user := seedUser(t, repo, "bob", "Sup3r$ecret")
	repo.users[user.ID].IsActive = false

	_, err := svc.Authenticate(context.Background(), "bob", "Sup3r$ecret", "1.2.3.4", "go-test")
	require.ErrorIs(t, err, shared.ErrAccountInactive)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	svc, repo, _, events := newTestService(t)
	user := seedUser(t, repo, "carol", "Sup3r$ecret")

	for i := 0; i < DefaultLockoutThreshold; i++ {
		_, err := svc.Authenticate(context.Background(), "carol", "wrong", "1.2.3.4", "go-test")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}

	stored := repo.users[user.ID]
	require.NotNil(t, stored.LockedUntil)
	require.Equal(t, 0, stored.FailedLoginCount, "counter resets when the lock engages")
	require.Contains(t, events.types(), audit.EventAccountLocked)

	// The correct password is refused while the lock holds.
	_, err := svc.Authenticate(context.Background(), "carol", "Sup3r$ecret", "1.2.3.4", "go-test")
	require.ErrorIs(t, err, shared.ErrAccountLocked)
}

func TestLockoutExpiresAfterWindow(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	user := seedUser(t, repo, "dave", "Sup3r$ecret")
	past := time.Now().UTC().Add(-time.Minute)
	repo.users[user.ID].LockedUntil = &past

	got, err := svc.Authenticate(context.Background(), "dave", "Sup3r$ecret", "1.2.3.4", "go-test")
	require.NoError(t, err)
	require.Nil(t, got.LockedUntil)
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	svc, _, assigner, events := newTestService(t)

	user, err := svc.Register(context.Background(), RegisterParams{
		Username:        "newbie",
		Email:           "newbie@test.local",
		Password:        "Sup3r$ecret",
		ConfirmPassword: "Sup3r$ecret",
		FirstName:       "New",
		LastName:        "Bie",
	}, "1.2.3.4", "go-test")
	require.NoError(t, err)
	require.Equal(t, DefaultRole, assigner.assigned[user.ID])
	require.Contains(t, events.types(), audit.EventUserRegistered)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedUser(t, repo, "taken", "Sup3r$ecret")

	_, err := svc.Register(context.Background(), RegisterParams{
		Username:        "taken",
		Email:           "other@test.local",
		Password:        "Sup3r$ecret",
		ConfirmPassword: "Sup3r$ecret",
		FirstName:       "A",
		LastName:        "B",
	}, "1.2.3.4", "go-test")
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterParams{
		Username:        "x!",
		Email:           "not-an-email",
		Password:        "weak",
		ConfirmPassword: "different",
		UserType:        "wizard",
	}, "1.2.3.4", "go-test")
	require.ErrorIs(t, err, shared.ErrValidation)
	for _, fragment := range []string{"Username", "email", "Password", "match", "user type"} {
		require.True(t, strings.Contains(err.Error(), fragment), "missing %q in %v", fragment, err)
	}
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	svc, repo, _, events := newTestService(t)
	user := seedUser(t, repo, "erin", "Sup3r$ecret")

	err := svc.ChangePassword(context.Background(), user, "wrong", "N3w$ecret!", "N3w$ecret!", "1.2.3.4", "go-test")
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, events.types(), audit.EventPasswordChangeFailed)

	err = svc.ChangePassword(context.Background(), user, "Sup3r$ecret", "N3w$ecret1", "N3w$ecret1", "1.2.3.4", "go-test")
	require.NoError(t, err)
	require.True(t, CheckPassword(repo.users[user.ID].PasswordHash, "N3w$ecret1"))
}

func TestPasswordPolicy(t *testing.T) {
	require.Empty(t, PasswordPolicyErrors(`Abcdef1!`))
	require.NotEmpty(t, PasswordPolicyErrors("short1!"))
	require.NotEmpty(t, PasswordPolicyErrors("alllowercase1!"))
	require.NotEmpty(t, PasswordPolicyErrors("ALLUPPERCASE1!"))
	require.NotEmpty(t, PasswordPolicyErrors("NoDigits!!"))
	require.NotEmpty(t, PasswordPolicyErrors("NoSpecial11"))
}

type recordingTracker struct {
	kinds   []string
	userIDs []*int64
}

func (r *recordingTracker) Track(kind string, userID *int64, details map[string]any) {
	r.kinds = append(r.kinds, kind)
	r.userIDs = append(r.userIDs, userID)
}

func scrapeMetrics(t *testing.T, metrics *observability.Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr.Body.String()
}

func TestAuthenticateRecordsLoginMetrics(t *testing.T) {
	repo := newMemoryAuthRepo()
	metrics := observability.NewMetrics()
	svc := NewService(repo, &stubAssigner{}, &stubGrants{}, audit.NewService(&recordingAuditRepo{}, nil), metrics, nil, ServiceConfig{})
	seedUser(t, repo, "alice", "Sup3r$ecret")

	_, err := svc.Authenticate(context.Background(), "alice", "Sup3r$ecret", "1.2.3.4", "go-test")
	require.NoError(t, err)
	_, err = svc.Authenticate(context.Background(), "alice", "wrong", "1.2.3.4", "go-test")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	body := scrapeMetrics(t, metrics)
	require.Contains(t, body, `jobhunter_logins_total{outcome="success"} 1`)
	require.Contains(t, body, `jobhunter_logins_total{outcome="failure"} 1`)
}

func TestLockoutRecordsMetrics(t *testing.T) {
	repo := newMemoryAuthRepo()
	metrics := observability.NewMetrics()
	svc := NewService(repo, &stubAssigner{}, &stubGrants{}, audit.NewService(&recordingAuditRepo{}, nil), metrics, nil, ServiceConfig{})
	seedUser(t, repo, "carol", "Sup3r$ecret")

	for i := 0; i < DefaultLockoutThreshold; i++ {
		_, err := svc.Authenticate(context.Background(), "carol", "wrong", "1.2.3.4", "go-test")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	_, err := svc.Authenticate(context.Background(), "carol", "Sup3r$ecret", "1.2.3.4", "go-test")
	require.ErrorIs(t, err, shared.ErrAccountLocked)

	body := scrapeMetrics(t, metrics)
	require.Contains(t, body, "jobhunter_account_lockouts_total 1")
	require.Contains(t, body, `jobhunter_logins_total{outcome="locked"} 1`)
}

func TestLoginAndRegistrationEmitUsageEvents(t *testing.T) {
	repo := newMemoryAuthRepo()
	tracker := &recordingTracker{}
	svc := NewService(repo, &stubAssigner{}, &stubGrants{}, audit.NewService(&recordingAuditRepo{}, nil), nil, tracker, ServiceConfig{})
	user := seedUser(t, repo, "alice", "Sup3r$ecret")

	_, err := svc.Authenticate(context.Background(), "alice", "Sup3r$ecret", "1.2.3.4", "go-test")
	require.NoError(t, err)

	registered, err := svc.Register(context.Background(), RegisterParams{
		Username:        "newbie",
		Email:           "newbie@test.local",
		Password:        "Sup3r$ecret",
		ConfirmPassword: "Sup3r$ecret",
		FirstName:       "New",
		LastName:        "Bie",
	}, "1.2.3.4", "go-test")
	require.NoError(t, err)

	require.Equal(t, []string{"login", "registration"}, tracker.kinds)
	require.NotNil(t, tracker.userIDs[0])
	require.Equal(t, user.ID, *tracker.userIDs[0])
	require.NotNil(t, tracker.userIDs[1])
	require.Equal(t, registered.ID, *tracker.userIDs[1])
}
