package api

import (
	auth "github.com/goliatone/go-auth-rbac"
)

// Services are the domain components the routes call into
type Services struct {
	Codec         *auth.TokenService
	Sessions      *auth.SessionIssuer
	Guard         *auth.Guard
	Users         *auth.UserService
	Roles         *auth.RoleCatalog
	Audit         *auth.AuditCorrelator
	ResetInit     *auth.InitializePasswordResetHandler
	ResetFinalize *auth.FinalizePasswordResetHandler
	VerifyRequest *auth.RequestEmailVerificationHandler
	VerifyEmail   *auth.VerifyEmailHandler
}

// Dependencies are the collaborators shared by every service
type Dependencies struct {
	Repo       auth.RepositoryManager
	Config     auth.Config
	Hasher     auth.PasswordAuthenticator
	Notifier   auth.Notifier
	Activity   auth.ActivitySink
	Logger     auth.Logger
	UploadsDir string
}

// NewServices wires every component over deps.Repo
func NewServices(deps Dependencies) (*Services, error) {
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	if deps.Hasher == nil {
		deps.Hasher = auth.NewArgon2Hasher()
	}

	codec, err := auth.NewTokenService([]byte(deps.Config.GetSigningKey()), deps.Logger)
	if err != nil {
		return nil, err
	}

	sessions := auth.NewSessionIssuer(deps.Repo, codec, deps.Config).
		WithLogger(deps.Logger).
		WithActivitySink(deps.Activity).
		WithPasswordAuthenticator(deps.Hasher)

	guard := auth.NewGuard(codec).WithLogger(deps.Logger)

	resetFlow := auth.NewPasswordResetFlow(deps.Repo, deps.Config)
	verifyFlow := auth.NewEmailVerificationFlow(deps.Repo, deps.Config)

	register := auth.NewRegisterUserHandler(deps.Repo, verifyFlow).
		WithPasswordAuthenticator(deps.Hasher).
		WithNotifier(deps.Notifier).
		WithActivitySink(deps.Activity).
		WithLogger(deps.Logger)

	users := auth.NewUserService(deps.Repo, guard, sessions.Refresh(), register, deps.UploadsDir).
		WithPasswordAuthenticator(deps.Hasher).
		WithActivitySink(deps.Activity).
		WithLogger(deps.Logger)

	return &Services{
		Codec:    codec,
		Sessions: sessions,
		Guard:    guard,
		Users:    users,
		Roles:    auth.NewRoleCatalog(deps.Repo, guard).WithLogger(deps.Logger),
		Audit:    auth.NewAuditCorrelator(deps.Repo).WithLogger(deps.Logger),
		ResetInit: auth.NewInitializePasswordResetHandler(deps.Repo, resetFlow).
			WithNotifier(deps.Notifier).
			WithActivitySink(deps.Activity).
			WithLogger(deps.Logger),
		ResetFinalize: auth.NewFinalizePasswordResetHandler(deps.Repo, resetFlow, sessions.Refresh()).
			WithPasswordAuthenticator(deps.Hasher).
			WithActivitySink(deps.Activity).
			WithLogger(deps.Logger),
		VerifyRequest: auth.NewRequestEmailVerificationHandler(deps.Repo, verifyFlow).
			WithNotifier(deps.Notifier).
			WithActivitySink(deps.Activity).
			WithLogger(deps.Logger),
		VerifyEmail: auth.NewVerifyEmailHandler(deps.Repo, verifyFlow).
			WithActivitySink(deps.Activity).
			WithLogger(deps.Logger),
	}, nil
}
