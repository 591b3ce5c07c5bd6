package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the signed payload of an access token:
// sub (username), role, user_id and exp
type SessionClaims struct {
	jwt.RegisteredClaims
	UserRole UserRole `json:"role"`
	UID      int64    `json:"user_id"`
}

// NewSessionClaims builds claims for user expiring after ttl
func NewSessionClaims(user *User, now time.Time, ttl time.Duration) *SessionClaims {
	return &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserRole: user.Role,
		UID:      user.ID,
	}
}

// Username returns the subject claim
func (c *SessionClaims) Username() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the numeric user id
func (c *SessionClaims) UserID() int64 {
	return c.UID
}

// UserIDString returns the user id formatted for logs and activity events
func (c *SessionClaims) UserIDString() string {
	return strconv.FormatInt(c.UID, 10)
}

// Role returns the role carried by the token
func (c *SessionClaims) Role() UserRole {
	return c.UserRole
}

// IsAdmin reports whether the token carries the admin role
func (c *SessionClaims) IsAdmin() bool {
	return c.UserRole.IsAdmin()
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
