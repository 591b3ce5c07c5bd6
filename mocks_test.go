package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/goliatone/go-auth-rbac/memstore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, args ...any) { m.Called(msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.Called(msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.Called(msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.Called(msg, args) }

// MockPasswordAuthenticator implements auth.PasswordAuthenticator
type MockPasswordAuthenticator struct {
	mock.Mock
}

func (m *MockPasswordAuthenticator) HashPassword(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordAuthenticator) ComparePasswordAndHash(password, hash string) error {
	args := m.Called(password, hash)
	return args.Error(0)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type testConfig struct {
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	verifyTTL  time.Duration
}

func (c testConfig) GetSigningKey() string                  { return testSigningKey }
func (c testConfig) GetAccessTokenTTL() time.Duration       { return c.accessTTL }
func (c testConfig) GetRefreshTokenTTL() time.Duration      { return c.refreshTTL }
func (c testConfig) GetPasswordResetTTL() time.Duration     { return c.resetTTL }
func (c testConfig) GetEmailVerificationTTL() time.Duration { return c.verifyTTL }
func (c testConfig) GetContextKey() string                  { return "user" }
func (c testConfig) GetCookieName() string                  { return "auth_token" }
func (c testConfig) GetCookieSecure() bool                  { return false }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) last() auth.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return auth.Notification{}
	}
	return n.sent[len(n.sent)-1]
}

// testEnv wires every component over a memstore with a cheap hasher
type testEnv struct {
	store      *memstore.Store
	clock      *fakeClock
	hasher     *auth.Argon2Hasher
	codec      *auth.TokenService
	issuer     *auth.SessionIssuer
	guard      *auth.Guard
	resetFlow  *auth.OneTimeTokenFlow
	verifyFlow *auth.OneTimeTokenFlow
	register   *auth.RegisterUserHandler
	users      *auth.UserService
	catalog    *auth.RoleCatalog
	resetInit  *auth.InitializePasswordResetHandler
	resetFinal *auth.FinalizePasswordResetHandler
	verifyReq  *auth.RequestEmailVerificationHandler
	verify     *auth.VerifyEmailHandler
	notifier   *recordingNotifier
	sink       *recordingSink
}

var cheapArgon2 = auth.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newFakeClock()
	store := memstore.New().WithClock(clock.Now)
	store.SeedCatalog()

	codec, err := auth.NewTokenService([]byte(testSigningKey), nopLogger{})
	require.NoError(t, err)
	codec.WithClock(clock.Now)

	cfg := testConfig{}
	hasher := auth.NewArgon2Hasher(cheapArgon2)
	sink := &recordingSink{}
	notifier := &recordingNotifier{}

	issuer := auth.NewSessionIssuer(store, codec, cfg).
		WithLogger(nopLogger{}).
		WithPasswordAuthenticator(hasher).
		WithActivitySink(sink).
		WithClock(clock.Now)

	guard := auth.NewGuard(codec).WithLogger(nopLogger{})

	resetFlow := auth.NewPasswordResetFlow(store, cfg).WithClock(clock.Now)
	verifyFlow := auth.NewEmailVerificationFlow(store, cfg).WithClock(clock.Now)

	register := auth.NewRegisterUserHandler(store, verifyFlow).
		WithPasswordAuthenticator(hasher).
		WithNotifier(notifier).
		WithActivitySink(sink).
		WithLogger(nopLogger{})

	users := auth.NewUserService(store, guard, issuer.Refresh(), register, t.TempDir()).
		WithPasswordAuthenticator(hasher).
		WithActivitySink(sink).
		WithLogger(nopLogger{}).
		WithClock(clock.Now)

	return &testEnv{
		store:      store,
		clock:      clock,
		hasher:     hasher,
		codec:      codec,
		issuer:     issuer,
		guard:      guard,
		resetFlow:  resetFlow,
		verifyFlow: verifyFlow,
		register:   register,
		users:      users,
		catalog:    auth.NewRoleCatalog(store, guard).WithLogger(nopLogger{}),
		resetInit: auth.NewInitializePasswordResetHandler(store, resetFlow).
			WithNotifier(notifier).
			WithActivitySink(sink).
			WithLogger(nopLogger{}),
		resetFinal: auth.NewFinalizePasswordResetHandler(store, resetFlow, issuer.Refresh()).
			WithPasswordAuthenticator(hasher).
			WithActivitySink(sink).
			WithLogger(nopLogger{}),
		verifyReq: auth.NewRequestEmailVerificationHandler(store, verifyFlow).
			WithNotifier(notifier).
			WithActivitySink(sink).
			WithLogger(nopLogger{}),
		verify: auth.NewVerifyEmailHandler(store, verifyFlow).
			WithActivitySink(sink).
			WithLogger(nopLogger{}),
		notifier: notifier,
		sink:     sink,
	}
}

func (e *testEnv) registerUser(t *testing.T, username, email, password string) *auth.RegisterUserResponse {
	t.Helper()
	resp, err := e.users.Register(context.Background(), auth.RegisterUserMessage{
		Username: username,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

// promote makes the user an admin directly in the store
func (e *testEnv) promote(t *testing.T, id int64) *auth.User {
	t.Helper()
	ctx := context.Background()
	user, err := e.store.Users().GetByID(ctx, id)
	require.NoError(t, err)
	user.Role = auth.RoleAdmin
	_, err = e.store.Users().UpdateTx(ctx, nil, user)
	require.NoError(t, err)
	return user
}

func claimsFor(user *auth.User) *auth.SessionClaims {
	return auth.NewSessionClaims(user, time.Now(), time.Minute)
}
