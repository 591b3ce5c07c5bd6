package auth

import "strings"

// Guard makes authorization decisions from decoded claims only. It never
// consults the store, so a role change takes effect when the next access
// token is issued.
type Guard struct {
	codec  TokenCodec
	logger Logger
}

// NewGuard creates a guard that decodes tokens with codec
func NewGuard(codec TokenCodec) *Guard {
	return &Guard{
		codec:  codec,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the guard.
func (g *Guard) WithLogger(logger Logger) *Guard {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Authenticate decodes a raw access token. A "Bearer " prefix is accepted.
func (g *Guard) Authenticate(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}

	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := g.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// AuthorizeOwnerOrAdmin allows admins and the owner of targetID
func (g *Guard) AuthorizeOwnerOrAdmin(claims *SessionClaims, targetID int64) error {
	if claims == nil {
		return ErrUnauthenticated
	}
	if claims.IsAdmin() || claims.UserID() == targetID {
		return nil
	}
	g.logger.Info("access denied", "user_id", claims.UserID(), "target_id", targetID)
	return ErrForbidden
}

// AuthorizeRoleChange allows only admins, including for their own account
func (g *Guard) AuthorizeRoleChange(claims *SessionClaims) error {
	return g.RequireAdmin(claims)
}

// RequireAdmin allows only admins
func (g *Guard) RequireAdmin(claims *SessionClaims) error {
	if claims == nil {
		return ErrUnauthenticated
	}
	if !claims.IsAdmin() {
		g.logger.Info("admin required", "user_id", claims.UserID(), "role", claims.Role())
		return ErrForbidden
	}
	return nil
}
