package domain

import (
	"time"
)

// User is the sole identity record. Each component of the identity core owns
// a disjoint slice of its fields: credentials, authorization overrides,
// two-factor state, session rotation state, and verification status.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`

	Role              Role     `json:"role"`
	ExtraPermissions  []string `json:"extra_permissions,omitempty"`
	DeniedPermissions []string `json:"denied_permissions,omitempty"`

	IsActive        bool       `json:"is_active"`
	IsVerified      bool       `json:"is_verified"`
	EmailVerified   bool       `json:"email_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`

	// Two-factor state. TwoFactorSecret is empty whenever TwoFactorEnabled is
	// false; backup codes are stored only as SHA-256 hashes.
	TwoFactorEnabled     bool       `json:"two_factor_enabled"`
	TwoFactorSecret      string     `json:"-"`
	TwoFactorBackupCodes []string   `json:"-"`
	TwoFactorVerifiedAt  *time.Time `json:"two_factor_verified_at,omitempty"`

	// Session rotation state. RefreshTokenFamily identifies the current valid
	// refresh lineage; RefreshTokenIssuedAt is the stamp of the newest token
	// issued in that family and only ever increases.
	RefreshTokenFamily   *string    `json:"-"`
	RefreshTokenIssuedAt *time.Time `json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedBy *string    `json:"created_by,omitempty"`
}

// Permissions resolves the user's effective capability set from role and
// per-user overrides. It is computed on demand, never cached, so an admin
// edit to the overrides takes effect on the next check.
func (u *User) Permissions() PermissionSet {
	return NewPermissionSet(u.Role, u.ExtraPermissions, u.DeniedPermissions)
}

// HasPermission reports whether the named capability is in the user's
// effective set. Unknown names resolve to false.
func (u *User) HasPermission(permission string) bool {
	return u.Permissions().Has(permission)
}

// HasRoleAtLeast compares hierarchy rank directly. Role-floor checks gate
// structural capabilities and are unaffected by extra/denied overrides.
func (u *User) HasRoleAtLeast(role Role) bool {
	return u.Role.AtLeast(role)
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
