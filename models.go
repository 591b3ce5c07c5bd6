package auth

import (
	"time"

	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            int64      `bun:"id,pk,autoincrement" json:"id"`
	Username      string     `bun:"username,notnull,unique" json:"username"`
	Email         *string    `bun:"email,unique" json:"email,omitempty"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	Role          UserRole   `bun:"role,notnull,default:'user'" json:"role"`
	AvatarURL     *string    `bun:"avatar_url" json:"avatar_url,omitempty"`
	Phone         *string    `bun:"phone" json:"phone,omitempty"`
	EmailVerified bool       `bun:"email_verified,notnull,default:false" json:"email_verified"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

// GetEmail returns the email or an empty string
func (u *User) GetEmail() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// RefreshToken is a long lived, single use credential
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Token         string    `bun:"token,notnull,unique" json:"-"`
	UserID        int64     `bun:"user_id,notnull" json:"user_id"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
	Used          bool      `bun:"used,notnull,default:false" json:"used"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// IsExpired reports whether the token is past its expiry at t
func (r *RefreshToken) IsExpired(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// OneTimeToken backs password reset and email verification
type OneTimeToken struct {
	bun.BaseModel `bun:"table:one_time_tokens,alias:ott"`
	ID            int64        `bun:"id,pk,autoincrement" json:"id"`
	Token         string       `bun:"token,notnull,unique" json:"-"`
	UserID        int64        `bun:"user_id,notnull" json:"user_id"`
	Purpose       TokenPurpose `bun:"purpose,notnull" json:"purpose"`
	ExpiresAt     time.Time    `bun:"expires_at,notnull" json:"expires_at"`
	Used          bool         `bun:"used,notnull,default:false" json:"used"`
	CreatedAt     time.Time    `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// IsExpired reports whether the token is past its expiry at t
func (o *OneTimeToken) IsExpired(t time.Time) bool {
	return !t.Before(o.ExpiresAt)
}

// Audit actions
const (
	AuditActionDeleteUser     = "DELETE_USER"
	AuditActionUpdateRole     = "UPDATE_ROLE"
	AuditActionChangePassword = "CHANGE_PASSWORD"
	AuditActionResetPassword  = "RESET_PASSWORD"
)

// AuditLog records who did what to whom
type AuditLog struct {
	bun.BaseModel  `bun:"table:audit_logs,alias:al"`
	ID             int64     `bun:"id,pk,autoincrement" json:"id"`
	AdminUsername  string    `bun:"admin_username,notnull" json:"admin_username"`
	Action         string    `bun:"action,notnull" json:"action"`
	TargetUsername string    `bun:"target_username,notnull" json:"target_username"`
	Details        *string   `bun:"details" json:"details,omitempty"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Role is a catalog entry, display data only
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rl"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Name          string    `bun:"name,notnull,unique" json:"name"`
	Description   *string   `bun:"description" json:"description,omitempty"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Permission is a catalog entry, display data only
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`
	ID            int64   `bun:"id,pk,autoincrement" json:"id"`
	Name          string  `bun:"name,notnull,unique" json:"name"`
	Description   *string `bun:"description" json:"description,omitempty"`
}

// RolePermission links roles and permissions
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`
	RoleID        int64 `bun:"role_id,pk" json:"role_id"`
	PermissionID  int64 `bun:"permission_id,pk" json:"permission_id"`
}

// UserStats is the admin dashboard summary
type UserStats struct {
	TotalUsers int `json:"total_users"`
	AdminUsers int `json:"admin_users"`
	NewToday   int `json:"new_today"`
}
