package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/almanakh/identity/internal/repository"
	"github.com/almanakh/identity/internal/totp"
	apperrors "github.com/almanakh/identity/pkg/errors"
)

// totpIssuer is the issuer label shown in authenticator apps.
const totpIssuer = "almanakh"

// TwoFactorService manages the TOTP enrollment lifecycle: provisioning,
// proof, use during login, and teardown.
type TwoFactorService struct {
	userRepo   repository.UserRepository
	challenges repository.ChallengeStore
	logger     *slog.Logger
}

// NewTwoFactorService creates a new two-factor service.
func NewTwoFactorService(
	userRepo repository.UserRepository,
	challenges repository.ChallengeStore,
	logger *slog.Logger,
) *TwoFactorService {
	return &TwoFactorService{
		userRepo:   userRepo,
		challenges: challenges,
		logger:     logger,
	}
}

// EnrollOutput carries the freshly generated secret material back to the
// client. The secret stays pending until Confirm proves possession.
type EnrollOutput struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// ConfirmOutput carries the one-time plaintext backup codes. They are never
// retrievable again; only their hashes are stored.
type ConfirmOutput struct {
	BackupCodes []string `json:"backup_codes"`
}

// VerifyOutput reports a successful second-factor proof. BackupCodesRemaining
// is set only when a backup code was consumed.
type VerifyOutput struct {
	Method               string `json:"method"`
	BackupCodesRemaining *int   `json:"backup_codes_remaining,omitempty"`
}

// Enroll generates a TOTP secret and provisioning URI for the user. The
// secret is held outside the user record with a bounded TTL; nothing on the
// account changes until Confirm succeeds.
func (s *TwoFactorService) Enroll(ctx context.Context, userID string) (*EnrollOutput, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for enrollment: %w", err)
	}

	if user.TwoFactorEnabled {
		return nil, apperrors.AlreadyExists("two-factor enrollment", "user", userID)
	}

	secret, uri, err := totp.GenerateSecret(totpIssuer, user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	if err := s.challenges.StorePendingSecret(ctx, userID, secret); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}

	s.logger.InfoContext(ctx, "two-factor enrollment started",
		slog.String("user_id", userID),
	)

	return &EnrollOutput{
		Secret:          secret,
		ProvisioningURI: uri,
	}, nil
}

// Confirm proves possession of the pending secret with a live TOTP code and
// activates two-factor on the account, returning the backup-code batch.
func (s *TwoFactorService) Confirm(ctx context.Context, userID, code string) (*ConfirmOutput, error) {
	if code == "" {
		return nil, apperrors.InvalidInput("code is required")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for confirmation: %w", err)
	}

	if user.TwoFactorEnabled {
		return nil, apperrors.AlreadyExists("two-factor enrollment", "user", userID)
	}

	secret, err := s.challenges.PendingSecret(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load pending secret: %w", err)
	}
	if secret == "" {
		return nil, apperrors.InvalidInput("no enrollment in progress")
	}

	if !totp.ValidateCode(code, secret) {
		return nil, apperrors.InvalidTwoFactorCode()
	}

	plaintexts, hashes, err := totp.GenerateBackupCodes()
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}

	if err := s.userRepo.EnableTwoFactor(ctx, userID, secret, hashes, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("enable two-factor: %w", err)
	}

	if err := s.challenges.DeletePendingSecret(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete pending secret",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "two-factor enabled",
		slog.String("user_id", userID),
	)

	return &ConfirmOutput{BackupCodes: plaintexts}, nil
}

// Verify checks a second-factor proof for an already-enrolled user: a live
// TOTP code first, then a backup code. Backup codes are single use.
func (s *TwoFactorService) Verify(ctx context.Context, userID, code string) (*VerifyOutput, error) {
	if code == "" {
		return nil, apperrors.InvalidInput("code is required")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for verification: %w", err)
	}

	if !user.TwoFactorEnabled {
		return nil, apperrors.InvalidInput("two-factor is not enabled")
	}

	if totp.ValidateCode(code, user.TwoFactorSecret) {
		return &VerifyOutput{Method: "totp"}, nil
	}

	remaining, ok, err := s.userRepo.ConsumeBackupCode(ctx, userID, totp.HashBackupCode(code))
	if err != nil {
		return nil, fmt.Errorf("consume backup code: %w", err)
	}
	if !ok {
		return nil, apperrors.InvalidTwoFactorCode()
	}

	s.logger.InfoContext(ctx, "backup code consumed",
		slog.String("user_id", userID),
		slog.Int("codes_remaining", remaining),
	)

	return &VerifyOutput{
		Method:               "backup_code",
		BackupCodesRemaining: &remaining,
	}, nil
}

// Disable turns off two-factor after re-proving the account password. The
// secret and any unspent backup codes are discarded.
func (s *TwoFactorService) Disable(ctx context.Context, userID, password string) error {
	if password == "" {
		return apperrors.InvalidInput("password is required")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for disable: %w", err)
	}

	if !user.TwoFactorEnabled {
		return apperrors.InvalidInput("two-factor is not enabled")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return apperrors.Unauthorized("password is incorrect")
	}

	if err := s.userRepo.DisableTwoFactor(ctx, userID); err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}

	s.logger.InfoContext(ctx, "two-factor disabled",
		slog.String("user_id", userID),
	)

	return nil
}
