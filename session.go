package auth

import (
	"context"
	"strconv"
	"time"
)

const (
	// DefaultAccessTokenTTL is the lifetime of an access token
	DefaultAccessTokenTTL = 15 * time.Minute
	// TokenTypeBearer is the token_type of every token response
	TokenTypeBearer = "Bearer"
)

// TokenPair is the token response body
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AccessIssuer produces access tokens for a user
type AccessIssuer interface {
	IssueAccess(user *User) (string, error)
	AccessTTL() time.Duration
}

// SessionIssuer issues access tokens and authenticates credentials
type SessionIssuer struct {
	repo      RepositoryManager
	codec     TokenCodec
	hasher    PasswordAuthenticator
	rotator   *RefreshRotator
	accessTTL time.Duration
	activity  ActivitySink
	logger    Logger
	now       func() time.Time
}

var _ AccessIssuer = (*SessionIssuer)(nil)

// NewSessionIssuer creates an issuer and the refresh rotator it delegates to
func NewSessionIssuer(repo RepositoryManager, codec TokenCodec, cfg Config) *SessionIssuer {
	s := &SessionIssuer{
		repo:      repo,
		codec:     codec,
		hasher:    defaultHasher,
		accessTTL: DefaultAccessTokenTTL,
		activity:  noopActivitySink{},
		logger:    defLogger{},
		now:       time.Now,
	}

	refreshTTL := DefaultRefreshTokenTTL
	if cfg != nil {
		if ttl := cfg.GetAccessTokenTTL(); ttl > 0 {
			s.accessTTL = ttl
		}
		if ttl := cfg.GetRefreshTokenTTL(); ttl > 0 {
			refreshTTL = ttl
		}
	}

	s.rotator = NewRefreshRotator(repo, s, refreshTTL)
	return s
}

// WithLogger overrides the logger used by the issuer and its rotator.
func (s *SessionIssuer) WithLogger(logger Logger) *SessionIssuer {
	if logger != nil {
		s.logger = logger
		s.rotator.WithLogger(logger)
	}
	return s
}

// WithActivitySink sets the sink used to emit login events.
func (s *SessionIssuer) WithActivitySink(sink ActivitySink) *SessionIssuer {
	s.activity = normalizeActivitySink(sink)
	s.rotator.WithActivitySink(sink)
	return s
}

// WithPasswordAuthenticator overrides the password hasher.
func (s *SessionIssuer) WithPasswordAuthenticator(hasher PasswordAuthenticator) *SessionIssuer {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

// WithClock overrides the clock used for claims and token expiry.
func (s *SessionIssuer) WithClock(now func() time.Time) *SessionIssuer {
	if now != nil {
		s.now = now
		s.rotator.WithClock(now)
	}
	return s
}

// Refresh returns the refresh rotator
func (s *SessionIssuer) Refresh() *RefreshRotator {
	return s.rotator
}

// AccessTTL returns the access token lifetime
func (s *SessionIssuer) AccessTTL() time.Duration {
	return s.accessTTL
}

// IssueAccess signs short lived claims bound to the user
func (s *SessionIssuer) IssueAccess(user *User) (string, error) {
	if user == nil {
		return "", ErrUnauthenticated
	}
	return s.codec.Encode(NewSessionClaims(user, s.now(), s.accessTTL))
}

// Authenticate verifies credentials and returns the user with a fresh token
// pair. Unknown users and bad passwords produce the same error.
func (s *SessionIssuer) Authenticate(ctx context.Context, username, password string) (*User, *TokenPair, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	user, err := s.repo.Users().GetByUsername(ctx, username)
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Error("login user lookup failed", "error", err)
			return nil, nil, DatabaseError(err, "failed to load user")
		}
		// spend comparable time so response latency does not reveal absence
		_ = s.hasher.ComparePasswordAndHash(password, dummyHash)
		s.loginFailed(ctx, username, "unknown user")
		return nil, nil, ErrInvalidCredentials
	}

	if err := s.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if HasTextCode(err, TextCodeSecurity) {
			s.logger.Error("stored password hash is corrupted", "user_id", user.ID, "error", err)
			return nil, nil, err
		}
		s.loginFailed(ctx, username, "bad password")
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.NewTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     userActor(strconv.FormatInt(user.ID, 10)),
		UserID:    strconv.FormatInt(user.ID, 10),
		Metadata:  map[string]any{"username": user.Username},
	})

	return user, pair, nil
}

// NewTokenPair issues an access token and a new refresh token for user
func (s *SessionIssuer) NewTokenPair(ctx context.Context, user *User) (*TokenPair, error) {
	access, err := s.IssueAccess(user)
	if err != nil {
		return nil, err
	}

	refresh, err := s.rotator.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return s.pair(access, refresh), nil
}

func (s *SessionIssuer) pair(access, refresh string) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
		TokenType:    TokenTypeBearer,
	}
}

func (s *SessionIssuer) loginFailed(ctx context.Context, username, reason string) {
	s.logger.Info("login failed", "username", username, "reason", reason)
	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{Type: "unknown"},
		Metadata:  map[string]any{"username": username},
	})
}

// dummyHash is a valid argon2id hash used to equalize login timing
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=1$c29tZXNhbHRzb21lc2FsdA$2u4x2QbWlQ7wGVZQxNqh3M2wQm2YxN0bW9qS1Q8n3Hk"
