// Package api exposes the account services over HTTP with fiber.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	auth "github.com/goliatone/go-auth-rbac"
	"github.com/goliatone/go-auth-rbac/metrics"
	"github.com/goliatone/go-auth-rbac/middleware/jwtware"
	"github.com/goliatone/go-auth-rbac/middleware/ratelimit"
)

const (
	DefaultPrefix     = "/api/v1"
	DefaultCookieName = "auth_token"
)

type Options struct {
	Prefix       string
	CookieName   string
	CookieSecure bool
	UploadsDir   string
	CORSOrigins  []string
	// RateLimiter is optional, requests are not throttled without it
	RateLimiter *ratelimit.Limiter
	// Metrics is optional, /metrics is only mounted with it
	Metrics *metrics.Metrics
	Logger  auth.Logger
}

// Server holds the route handlers
type Server struct {
	svc  *Services
	opts Options
	now  func() time.Time
}

// New builds the fiber application with every route mounted
func New(svc *Services, opts Options) *fiber.App {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	s := &Server{svc: svc, opts: opts, now: time.Now}

	app := fiber.New(fiber.Config{
		AppName:               "authd",
		ErrorHandler:          ErrorHandler(opts.Logger),
		BodyLimit:             auth.MaxAvatarSize + 64<<10,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(s.corsMiddleware())
	if opts.Metrics != nil {
		app.Use(opts.Metrics.Middleware())
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}
	if opts.RateLimiter != nil {
		app.Use(opts.RateLimiter.Handler())
	}

	app.Get("/health", s.Health)
	if opts.UploadsDir != "" {
		app.Static(auth.UploadsURLPrefix, opts.UploadsDir)
	}

	s.Routes(app.Group(opts.Prefix))
	return app
}

func (s *Server) corsMiddleware() fiber.Handler {
	origins := strings.Join(s.opts.CORSOrigins, ",")
	if origins == "" {
		origins = "*"
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowCredentials: origins != "*",
	})
}

// Routes mounts the API on router
func (s *Server) Routes(router fiber.Router) {
	protected := jwtware.New(jwtware.Config{
		TokenValidator: s.svc.Guard,
		TokenLookup:    "header:" + fiber.HeaderAuthorization + ",cookie:" + s.opts.CookieName,
	})

	router.Post("/login", s.Login)
	router.Post("/logout", s.Logout)
	router.Post("/refresh", s.Refresh)
	router.Post("/forgot-password", s.ForgotPassword)
	router.Post("/reset-password", s.ResetPassword)
	router.Get("/verify-email", s.VerifyEmail)
	router.Post("/users", s.Register)

	router.Post("/send-verification", protected, s.SendVerification)
	router.Post("/logout-all", protected, s.LogoutAll)
	router.Get("/me", protected, s.Me)

	router.Put("/users/password", protected, s.ChangePassword)
	router.Post("/users/avatar", protected, s.UploadAvatar)
	router.Get("/users/:id", protected, s.GetUser)
	router.Put("/users/:id", protected, s.UpdateUser)
	router.Delete("/users/:id", protected, s.DeleteUser)

	router.Get("/roles", protected, s.ListRoles)
	router.Get("/roles/permissions", protected, s.ListRolePermissions)
	router.Get("/permissions", protected, s.ListPermissions)
	router.Post("/roles", protected, s.CreateRole)
	router.Put("/roles/:id", protected, s.UpdateRole)
	router.Delete("/roles/:id", protected, s.DeleteRole)
	router.Put("/permissions/:id", protected, s.UpdatePermission)

	router.Get("/audit-logs", protected, s.AuditLogs)
	router.Get("/stats", protected, s.Stats)
}

func (s *Server) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// setSessionCookie stores the access token in an HttpOnly cookie
func (s *Server) setSessionCookie(c *fiber.Ctx, pair *auth.TokenPair) {
	c.Cookie(&fiber.Cookie{
		Name:     s.opts.CookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  s.now().Add(time.Duration(pair.ExpiresIn) * time.Second),
		HTTPOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  s.now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func claimsFrom(c *fiber.Ctx) (*auth.SessionClaims, error) {
	claims, ok := jwtware.Claims(c)
	if !ok {
		return nil, auth.ErrUnauthenticated
	}
	return claims, nil
}

func bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return auth.NewValidationError("invalid request body", map[string]any{"body": err.Error()})
	}
	return nil
}

func idParam(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, auth.NewValidationError("invalid id", map[string]any{"id": c.Params("id")})
	}
	return int64(id), nil
}

type messageResponse struct {
	Message string `json:"message"`
}
