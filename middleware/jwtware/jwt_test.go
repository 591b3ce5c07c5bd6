package jwtware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-rbac"
	"github.com/goliatone/go-auth-rbac/middleware/jwtware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingKey = "0123456789abcdef0123456789abcdef"

func newGuard(t *testing.T) (*auth.Guard, *auth.TokenService) {
	t.Helper()
	codec, err := auth.NewTokenService([]byte(signingKey), nil)
	require.NoError(t, err)
	return auth.NewGuard(codec), codec
}

func generateToken(t *testing.T, codec *auth.TokenService, user *auth.User, ttl time.Duration) string {
	t.Helper()
	token, err := codec.Encode(auth.NewSessionClaims(user, time.Now(), ttl))
	require.NoError(t, err)
	return token
}

func newApp(cfg jwtware.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(auth.HTTPStatus(err)).SendString(err.Error())
		},
	})
	app.Use(jwtware.New(cfg))
	app.Get("/me", func(c *fiber.Ctx) error {
		claims, ok := jwtware.Claims(c)
		if !ok {
			return c.SendStatus(http.StatusTeapot)
		}
		fromCtx, ok := auth.GetClaims(c.UserContext())
		if !ok || fromCtx.UserID() != claims.UserID() {
			return c.SendStatus(http.StatusTeapot)
		}
		return c.SendString(claims.Username())
	})
	return app
}

func TestJWTWare_TokenSources(t *testing.T) {
	guard, codec := newGuard(t)
	token := generateToken(t, codec, &auth.User{ID: 1, Username: "alice", Role: auth.RoleUser}, time.Minute)
	app := newApp(jwtware.Config{TokenValidator: guard})

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"lower case scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "auth_token", Value: token}) }, http.StatusOK},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, http.StatusUnauthorized},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") }, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestJWTWare_ExpiredToken(t *testing.T) {
	guard, codec := newGuard(t)
	token := generateToken(t, codec, &auth.User{ID: 1, Username: "alice", Role: auth.RoleUser}, -time.Minute)

	var got error
	app := newApp(jwtware.Config{
		TokenValidator: guard,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			got = err
			return c.SendStatus(http.StatusUnauthorized)
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, auth.IsTokenStateError(got))
}

func TestJWTWare_RequiredRole(t *testing.T) {
	guard, codec := newGuard(t)
	app := newApp(jwtware.Config{TokenValidator: guard, RequiredRole: auth.RoleAdmin})

	for user, status := range map[*auth.User]int{
		{ID: 1, Username: "alice", Role: auth.RoleUser}: http.StatusForbidden,
		{ID: 2, Username: "root", Role: auth.RoleAdmin}: http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+generateToken(t, codec, user, time.Minute))

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode, user.Username)
	}
}

func TestJWTWare_FilterAndListeners(t *testing.T) {
	guard, codec := newGuard(t)
	token := generateToken(t, codec, &auth.User{ID: 1, Username: "alice", Role: auth.RoleUser}, time.Minute)

	var seen []string
	app := fiber.New()
	app.Use(jwtware.New(jwtware.Config{
		TokenValidator: guard,
		Filter:         func(c *fiber.Ctx) bool { return c.Path() == "/health" },
		ValidationListeners: []jwtware.ValidationListener{
			nil,
			func(_ *fiber.Ctx, claims *auth.SessionClaims) error {
				seen = append(seen, claims.Username())
				return nil
			},
			func(_ *fiber.Ctx, claims *auth.SessionClaims) error {
				if claims.Username() == "alice" {
					return errors.New("blocked")
				}
				return nil
			},
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(http.StatusLocked).SendString(err.Error())
		},
	}))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/me", func(c *fiber.Ctx) error { return c.SendString("me") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	assert.Equal(t, []string{"alice"}, seen)
}

func TestGetDefaultConfig(t *testing.T) {
	assert.Panics(t, func() { jwtware.GetDefaultConfig() })

	guard, _ := newGuard(t)
	cfg := jwtware.GetDefaultConfig(jwtware.Config{TokenValidator: guard})
	assert.Equal(t, "user", cfg.ContextKey)
	assert.Equal(t, "Bearer", cfg.AuthScheme)
	assert.Len(t, jwtware.GetExtractors(cfg.TokenLookup, cfg.AuthScheme), 2)
	assert.Len(t, jwtware.GetExtractors("header:X-Token,query:token,param:id,bogus"), 2)
}

func TestExtractRawToken(t *testing.T) {
	var (
		emptyRaw, queryRaw string
		emptyErr, queryErr error
	)

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		emptyRaw, emptyErr = jwtware.ExtractRawToken(c, nil)
		queryRaw, queryErr = jwtware.ExtractRawToken(c, jwtware.GetExtractors("header:Authorization,query:token"))
		return c.SendStatus(http.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/?token=from-query", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Empty(t, emptyRaw)
	assert.ErrorIs(t, emptyErr, jwtware.ErrJWTMissingOrMalformed)

	require.NoError(t, queryErr)
	assert.Equal(t, "from-query", queryRaw)
}
