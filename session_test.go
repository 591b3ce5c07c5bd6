package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/goliatone/go-auth-rbac/memstore"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.registerUser(t, "alice", "alice@example.com", "Secret123")

	user, pair, err := env.issuer.Authenticate(ctx, "alice", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, "Bearer", pair.TokenType)

	claims, err := env.codec.Decode(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username())
	assert.Equal(t, user.ID, claims.UserID())
	assert.Equal(t, env.clock.Now().Add(15*time.Minute).Unix(), claims.Expires().Unix())

	_, _, wrongPassword := env.issuer.Authenticate(ctx, "alice", "wrong")
	_, _, unknownUser := env.issuer.Authenticate(ctx, "mallory", "Secret123")

	require.Error(t, wrongPassword)
	require.Error(t, unknownUser)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
	assert.True(t, auth.HasTextCode(wrongPassword, auth.TextCodeInvalidCredentials))
	assert.True(t, auth.HasTextCode(unknownUser, auth.TextCodeInvalidCredentials))
	assert.Equal(t, 401, auth.HTTPStatus(wrongPassword))

	assert.Contains(t, env.sink.types(), auth.ActivityEventLoginSuccess)
	assert.Contains(t, env.sink.types(), auth.ActivityEventLoginFailure)
}

func TestAuthenticateUnknownUserStillHashes(t *testing.T) {
	store := memstore.New()
	codec, err := auth.NewTokenService([]byte(testSigningKey), nopLogger{})
	require.NoError(t, err)

	hasher := &MockPasswordAuthenticator{}
	hasher.On("ComparePasswordAndHash", "Secret123", mock.AnythingOfType("string")).
		Return(auth.ErrMismatchedHashAndPassword).Once()

	issuer := auth.NewSessionIssuer(store, codec, nil).
		WithLogger(nopLogger{}).
		WithPasswordAuthenticator(hasher)

	_, _, err = issuer.Authenticate(context.Background(), "ghost", "Secret123")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	hasher.AssertExpectations(t)
}

func TestAuthenticateCorruptedHashIsInternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.registerUser(t, "alice", "", "Secret123")
	require.NoError(t, env.store.Users().UpdatePasswordTx(ctx, nil, resp.User.ID, "not-a-hash"))

	_, _, err := env.issuer.Authenticate(ctx, "alice", "Secret123")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeSecurity))
	assert.Equal(t, 500, auth.HTTPStatus(err))
}

func TestAuthenticateHonorsCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := env.issuer.Authenticate(ctx, "alice", "Secret123")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIssueAccessUsesConfiguredTTL(t *testing.T) {
	codec, err := auth.NewTokenService([]byte(testSigningKey), nopLogger{})
	require.NoError(t, err)

	issuer := auth.NewSessionIssuer(memstore.New(), codec, testConfig{accessTTL: 5 * time.Minute})
	assert.Equal(t, 5*time.Minute, issuer.AccessTTL())

	token, err := issuer.IssueAccess(testUser())
	require.NoError(t, err)

	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.Expires(), 5*time.Second)

	_, err = issuer.IssueAccess(nil)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestRotateIssuesNewPairOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.registerUser(t, "alice", "", "Secret123")
	_, pair, err := env.issuer.Authenticate(ctx, "alice", "Secret123")
	require.NoError(t, err)

	next, err := env.issuer.Refresh().Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.NotEmpty(t, next.AccessToken)

	_, err = env.issuer.Refresh().Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenAlreadyUsed)
	assert.Contains(t, env.sink.types(), auth.ActivityEventTokenReplay)

	// the replacement is still good
	_, err = env.issuer.Refresh().Rotate(ctx, next.RefreshToken)
	assert.NoError(t, err)
}

func TestRotateFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.registerUser(t, "alice", "", "Secret123")

	t.Run("unknown token", func(t *testing.T) {
		_, err := env.issuer.Refresh().Rotate(ctx, "does-not-exist")
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)

		_, err = env.issuer.Refresh().Rotate(ctx, "")
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := env.issuer.Refresh().Create(ctx, resp.User.ID)
		require.NoError(t, err)

		env.clock.Advance(auth.DefaultRefreshTokenTTL)

		_, err = env.issuer.Refresh().Rotate(ctx, token)
		assert.ErrorIs(t, err, auth.ErrTokenExpired)

		// a failed rotation leaves the token unused
		record, err := env.store.RefreshTokens().GetByTokenTx(ctx, nil, token)
		require.NoError(t, err)
		assert.False(t, record.Used)
	})

	t.Run("owner deleted", func(t *testing.T) {
		token, err := env.issuer.Refresh().Create(ctx, 9999)
		require.NoError(t, err)

		_, err = env.issuer.Refresh().Rotate(ctx, token)
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := env.issuer.Refresh().Rotate(cctx, "anything")
		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, goerrors.CategoryOperation, richErr.Category)
	})
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.registerUser(t, "alice", "", "Secret123")
	token, err := env.issuer.Refresh().Create(ctx, resp.User.ID)
	require.NoError(t, err)

	const workers = 16
	errs := make(chan error, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		go func() {
			<-start
			_, err := env.issuer.Refresh().Rotate(ctx, token)
			errs <- err
		}()
	}
	close(start)

	wins := 0
	for i := 0; i < workers; i++ {
		err := <-errs
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, auth.ErrTokenAlreadyUsed)
	}
	assert.Equal(t, 1, wins)
}

func TestRevokeAllAndPurge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.registerUser(t, "alice", "", "Secret123")
	rotator := env.issuer.Refresh()

	first, err := rotator.Create(ctx, resp.User.ID)
	require.NoError(t, err)
	second, err := rotator.Create(ctx, resp.User.ID)
	require.NoError(t, err)

	require.NoError(t, env.users.LogoutAll(ctx, resp.User.ID))

	for _, token := range []string{first, second} {
		_, err := rotator.Rotate(ctx, token)
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)
	}
	assert.Contains(t, env.sink.types(), auth.ActivityEventLogoutAll)

	_, err = rotator.Create(ctx, resp.User.ID)
	require.NoError(t, err)
	fresh, err := rotator.Create(ctx, resp.User.ID)
	require.NoError(t, err)

	env.clock.Advance(auth.DefaultRefreshTokenTTL + time.Second)
	_, err = rotator.Create(ctx, resp.User.ID)
	require.NoError(t, err)

	n, err := rotator.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = rotator.Rotate(ctx, fresh)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}
