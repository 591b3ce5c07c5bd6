package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenCodec signs and verifies session claims
type TokenCodec interface {
	Encode(claims *SessionClaims) (string, error)
	Decode(token string) (*SessionClaims, error)
}

// TokenService implements TokenCodec with HS256
type TokenService struct {
	signingKey []byte
	logger     Logger
	now        func() time.Time
}

var _ TokenCodec = (*TokenService)(nil)

// NewTokenService creates a new TokenService. The signing key has no
// default, an empty key is rejected.
func NewTokenService(signingKey []byte, logger Logger) (*TokenService, error) {
	if len(signingKey) == 0 {
		return nil, goerrors.New("signing key must be configured", goerrors.CategoryInternal).
			WithTextCode("MISSING_SIGNING_KEY")
	}

	key := make([]byte, len(signingKey))
	copy(key, signingKey)

	return &TokenService{
		signingKey: key,
		logger:     normalizeLogger(logger),
		now:        time.Now,
	}, nil
}

// WithClock overrides the clock used to validate expiry
func (ts *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		ts.now = now
	}
	return ts
}

// Encode signs claims. The expiry travels inside the payload as exp.
func (ts *TokenService) Encode(claims *SessionClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	if claims.ExpiresAt == nil {
		return "", goerrors.New("claims must carry an expiry", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Decode verifies signature and expiry. Every failure is reported as
// ErrTokenInvalid, the cause is only logged.
func (ts *TokenService) Decode(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil {
		ts.logger.Debug("token decode failed", "error", err)
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		ts.logger.Debug("token decode produced unexpected claims")
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" || !claims.UserRole.IsValid() {
		ts.logger.Debug("token is missing subject or role", "role", claims.UserRole)
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
