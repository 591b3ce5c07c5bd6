package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testUser() *auth.User {
	return &auth.User{ID: 42, Username: "alice", Role: auth.RoleUser}
}

func TestNewTokenServiceRequiresKey(t *testing.T) {
	_, err := auth.NewTokenService(nil, nil)
	assert.Error(t, err)

	_, err = auth.NewTokenService([]byte{}, nopLogger{})
	assert.Error(t, err)
}

func TestTokenServiceRoundTrip(t *testing.T) {
	clock := newFakeClock()
	ts, err := auth.NewTokenService([]byte(testSigningKey), nopLogger{})
	require.NoError(t, err)
	ts.WithClock(clock.Now)

	token, err := ts.Encode(auth.NewSessionClaims(testUser(), clock.Now(), 15*time.Minute))
	require.NoError(t, err)

	claims, err := ts.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username())
	assert.Equal(t, int64(42), claims.UserID())
	assert.Equal(t, "42", claims.UserIDString())
	assert.Equal(t, auth.RoleUser, claims.Role())
	assert.False(t, claims.IsAdmin())
	assert.Equal(t, clock.Now().Add(15*time.Minute).Unix(), claims.Expires().Unix())
}

func TestTokenServiceRejections(t *testing.T) {
	clock := newFakeClock()

	logger := &MockLogger{}
	logger.On("Debug", mock.Anything, mock.Anything).Return()

	ts, err := auth.NewTokenService([]byte(testSigningKey), logger)
	require.NoError(t, err)
	ts.WithClock(clock.Now)

	other, err := auth.NewTokenService([]byte("another-signing-key-of-32-bytes!"), nopLogger{})
	require.NoError(t, err)

	valid := auth.NewSessionClaims(testUser(), clock.Now(), time.Minute)

	foreign, err := other.Encode(valid)
	require.NoError(t, err)

	expired, err := ts.Encode(auth.NewSessionClaims(testUser(), clock.Now().Add(-time.Hour), time.Minute))
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, valid).SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	noExp := &auth.SessionClaims{UserRole: auth.RoleUser, UID: 1}
	noExp.Subject = "alice"
	noExpToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noExp).SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	badRole := auth.NewSessionClaims(&auth.User{ID: 1, Username: "alice", Role: "root"}, clock.Now(), time.Minute)
	badRoleToken, err := ts.Encode(badRole)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong key", foreign},
		{"expired", expired},
		{"alg none", noneToken},
		{"other hmac", hs512},
		{"missing exp", noExpToken},
		{"unknown role", badRoleToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Decode(tt.token)
			assert.ErrorIs(t, err, auth.ErrTokenInvalid)
			assert.True(t, auth.IsTokenStateError(err))
		})
	}

	logger.AssertCalled(t, "Debug", "token decode failed", mock.Anything)
}

func TestTokenServiceEncodeRequiresExpiry(t *testing.T) {
	ts, err := auth.NewTokenService([]byte(testSigningKey), nopLogger{})
	require.NoError(t, err)

	_, err = ts.Encode(&auth.SessionClaims{UID: 1})
	assert.Error(t, err)

	_, err = ts.Encode(nil)
	assert.Error(t, err)
}
