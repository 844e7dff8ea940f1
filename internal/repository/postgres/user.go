package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/almanakh/identity/internal/domain"
	apperrors "github.com/almanakh/identity/pkg/errors"
)

// DB is the subset of pgxpool.Pool the repositories use. pgxmock satisfies
// the same interface in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, username, password_hash, role, extra_permissions, denied_permissions,
	is_active, is_verified, email_verified, email_verified_at,
	two_factor_enabled, two_factor_secret, two_factor_backup_codes, two_factor_verified_at,
	refresh_token_family, refresh_token_issued_at,
	created_at, updated_at, last_login, created_by`

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Email,
		u.Username,
		u.PasswordHash,
		u.Role,
		u.ExtraPermissions,
		u.DeniedPermissions,
		u.IsActive,
		u.IsVerified,
		u.EmailVerified,
		u.EmailVerifiedAt,
		u.TwoFactorEnabled,
		u.TwoFactorSecret,
		u.TwoFactorBackupCodes,
		u.TwoFactorVerifiedAt,
		u.RefreshTokenFamily,
		u.RefreshTokenIssuedAt,
		u.CreatedAt,
		u.UpdatedAt,
		u.LastLogin,
		u.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email or username", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

// GetByIdentifier retrieves a user by email or username.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 OR username = $1`
	return r.scanUser(ctx, query, identifier)
}

// Update modifies the mutable profile and authorization fields of a user.
// Session, two-factor, and verification state have dedicated conditional
// updates and are not written here.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET email = $1, username = $2, password_hash = $3, role = $4,
		    extra_permissions = $5, denied_permissions = $6,
		    is_active = $7, is_verified = $8, updated_at = $9
		WHERE id = $10`

	ct, err := r.db.Exec(ctx, query,
		u.Email,
		u.Username,
		u.PasswordHash,
		u.Role,
		u.ExtraPermissions,
		u.DeniedPermissions,
		u.IsActive,
		u.IsVerified,
		u.UpdatedAt,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email or username", u.Email)
		}
		return fmt.Errorf("update user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", u.ID)
	}

	return nil
}

// RecordLogin installs a fresh refresh-token family and stamps last_login.
func (r *UserRepository) RecordLogin(ctx context.Context, id, family string, issuedAt, loginAt time.Time) error {
	query := `
		UPDATE users
		SET refresh_token_family = $1, refresh_token_issued_at = $2, last_login = $3, updated_at = $4
		WHERE id = $5`

	ct, err := r.db.Exec(ctx, query, family, issuedAt, loginAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}

	return nil
}

// RotateRefreshToken performs the single conditional update that makes
// rotation race-safe: the stamp only moves forward when the stored family and
// the stored stamp both still match what the presented token claims. Exactly
// one of two concurrent rotations can win.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, id, family string, prev, next time.Time) (bool, error) {
	query := `
		UPDATE users
		SET refresh_token_issued_at = $1, updated_at = $2
		WHERE id = $3 AND refresh_token_family = $4 AND refresh_token_issued_at = $5`

	ct, err := r.db.Exec(ctx, query, next, time.Now().UTC(), id, family, prev)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}

	return ct.RowsAffected() == 1, nil
}

// ClearRefreshFamily revokes the refresh lineage: any token from the cleared
// family fails the family comparison on its next presentation.
func (r *UserRepository) ClearRefreshFamily(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET refresh_token_family = NULL, refresh_token_issued_at = NULL, updated_at = $1
		WHERE id = $2`

	_, err := r.db.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear refresh family: %w", err)
	}

	return nil
}

// EnableTwoFactor persists the proven secret and backup-code hashes.
func (r *UserRepository) EnableTwoFactor(ctx context.Context, id, secret string, backupCodeHashes []string, verifiedAt time.Time) error {
	query := `
		UPDATE users
		SET two_factor_enabled = TRUE, two_factor_secret = $1, two_factor_backup_codes = $2,
		    two_factor_verified_at = $3, updated_at = $4
		WHERE id = $5`

	ct, err := r.db.Exec(ctx, query, secret, backupCodeHashes, verifiedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("enable two-factor: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}

	return nil
}

// DisableTwoFactor clears all two-factor state, restoring the invariant that
// the secret is null while two_factor_enabled is false.
func (r *UserRepository) DisableTwoFactor(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = FALSE, two_factor_secret = '', two_factor_backup_codes = '{}',
		    two_factor_verified_at = NULL, updated_at = $1
		WHERE id = $2`

	ct, err := r.db.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}

	return nil
}

// ConsumeBackupCode removes the matched hash in one guarded statement so two
// concurrent requests presenting the same code cannot both succeed.
func (r *UserRepository) ConsumeBackupCode(ctx context.Context, id, codeHash string) (int, bool, error) {
	query := `
		UPDATE users
		SET two_factor_backup_codes = array_remove(two_factor_backup_codes, $1), updated_at = $2
		WHERE id = $3 AND $1 = ANY(two_factor_backup_codes)
		RETURNING cardinality(two_factor_backup_codes)`

	var remaining int
	err := r.db.QueryRow(ctx, query, codeHash, time.Now().UTC(), id).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("consume backup code: %w", err)
	}

	return remaining, true, nil
}

// MarkEmailVerified sets email_verified and stamps the verification time.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, verifiedAt time.Time) error {
	query := `
		UPDATE users
		SET email_verified = TRUE, email_verified_at = $1, updated_at = $2
		WHERE id = $3`

	ct, err := r.db.Exec(ctx, query, verifiedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}

	return nil
}

// scanUser executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.Role,
		&u.ExtraPermissions,
		&u.DeniedPermissions,
		&u.IsActive,
		&u.IsVerified,
		&u.EmailVerified,
		&u.EmailVerifiedAt,
		&u.TwoFactorEnabled,
		&u.TwoFactorSecret,
		&u.TwoFactorBackupCodes,
		&u.TwoFactorVerifiedAt,
		&u.RefreshTokenFamily,
		&u.RefreshTokenIssuedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLogin,
		&u.CreatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &u, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
