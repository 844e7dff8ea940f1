package repository

import (
	"context"
	"time"

	"github.com/almanakh/identity/internal/domain"
)

// UserRepository defines the persistence contract for the User identity
// record, including the atomic conditional updates the session and
// two-factor state machines depend on.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByIdentifier retrieves a user by email or username.
	GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error)

	// Update modifies an existing user in the store.
	Update(ctx context.Context, user *domain.User) error

	// RecordLogin installs a new refresh-token family and issuance stamp and
	// stamps last_login.
	RecordLogin(ctx context.Context, id, family string, issuedAt, loginAt time.Time) error

	// RotateRefreshToken bumps the issuance stamp from prev to next, but only
	// if the stored family and stamp still match the expected values. Returns
	// false when a concurrent rotation or a family change got there first.
	RotateRefreshToken(ctx context.Context, id, family string, prev, next time.Time) (bool, error)

	// ClearRefreshFamily revokes the user's refresh lineage entirely.
	ClearRefreshFamily(ctx context.Context, id string) error

	// EnableTwoFactor persists the proven secret, the backup-code hashes, and
	// the verification stamp, flipping two_factor_enabled on.
	EnableTwoFactor(ctx context.Context, id, secret string, backupCodeHashes []string, verifiedAt time.Time) error

	// DisableTwoFactor clears all two-factor state.
	DisableTwoFactor(ctx context.Context, id string) error

	// ConsumeBackupCode removes the backup code with the given hash if it is
	// present, atomically, and returns the number of codes remaining. ok is
	// false when no stored code matched (including a code already consumed).
	ConsumeBackupCode(ctx context.Context, id, codeHash string) (remaining int, ok bool, err error)

	// MarkEmailVerified sets email_verified and its timestamp.
	MarkEmailVerified(ctx context.Context, id string, verifiedAt time.Time) error
}

// UsedTokenRepository tracks redeemed email-verification tokens by their jti
// so a cryptographically valid token cannot be replayed. Records must outlive
// the token's maximum validity window before pruning.
type UsedTokenRepository interface {
	// MarkUsed records the token id as redeemed. Returns false when the id
	// was already present, which is the replay signal.
	MarkUsed(ctx context.Context, tokenID string, usedAt time.Time) (bool, error)

	// UsedAt returns the redemption timestamp, or nil if the id is unknown.
	UsedAt(ctx context.Context, tokenID string) (*time.Time, error)

	// DeleteExpiredBefore prunes records redeemed before the cutoff. The
	// caller is responsible for choosing a cutoff no later than now minus the
	// token's maximum lifetime.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChallengeStore holds short-lived per-user state that never touches the User
// row: pending two-factor secrets awaiting proof, and the email-verification
// issuance cooldown.
type ChallengeStore interface {
	// StorePendingSecret stashes an unproven TOTP secret with a bounded TTL.
	StorePendingSecret(ctx context.Context, userID, secret string) error

	// PendingSecret returns the stashed secret, or "" when none is pending.
	PendingSecret(ctx context.Context, userID string) (string, error)

	// DeletePendingSecret discards the pending secret.
	DeletePendingSecret(ctx context.Context, userID string) error

	// AcquireVerificationCooldown atomically claims the per-user verification
	// send slot. Returns false while a previous claim is still cooling down.
	AcquireVerificationCooldown(ctx context.Context, userID string) (bool, error)
}
