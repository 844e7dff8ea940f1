package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/almanakh/identity/internal/auth"
	"github.com/almanakh/identity/internal/event"
	"github.com/almanakh/identity/internal/repository"
	apperrors "github.com/almanakh/identity/pkg/errors"
)

// VerificationService issues and redeems single-use email-verification
// tokens. Issuance is rate limited per user; redemption burns the token id
// before any account state changes.
type VerificationService struct {
	userRepo   repository.UserRepository
	usedTokens repository.UsedTokenRepository
	challenges repository.ChallengeStore
	jwtManager *auth.JWTManager
	producer   *event.Producer
	baseURL    string
	logger     *slog.Logger
}

// NewVerificationService creates a new verification service. baseURL is the
// public endpoint the emailed link points at.
func NewVerificationService(
	userRepo repository.UserRepository,
	usedTokens repository.UsedTokenRepository,
	challenges repository.ChallengeStore,
	jwtManager *auth.JWTManager,
	producer *event.Producer,
	baseURL string,
	logger *slog.Logger,
) *VerificationService {
	return &VerificationService{
		userRepo:   userRepo,
		usedTokens: usedTokens,
		challenges: challenges,
		jwtManager: jwtManager,
		producer:   producer,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Request issues a verification token for the user's current email and hands
// the link to the mail dispatcher. At most one token is issued per user per
// cooldown window.
func (s *VerificationService) Request(ctx context.Context, userID string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for verification request: %w", err)
	}

	if user.EmailVerified {
		return apperrors.AlreadyVerified()
	}

	acquired, err := s.challenges.AcquireVerificationCooldown(ctx, userID)
	if err != nil {
		return fmt.Errorf("acquire verification cooldown: %w", err)
	}
	if !acquired {
		return apperrors.RateLimited("a verification email was sent recently, please wait before requesting another")
	}

	tokenID := uuid.New().String()
	token, err := s.jwtManager.GenerateVerificationToken(user.ID, user.Email, tokenID)
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}

	link := fmt.Sprintf("%s?token=%s", s.baseURL, url.QueryEscape(token))

	// The mail side is fire-and-forget: a lost event is recoverable by
	// requesting again after the cooldown, so issuance is not rolled back.
	if err := s.producer.PublishVerificationRequested(ctx, user.ID, user.Email, link); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish email.verification_requested event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "verification token issued",
		slog.String("user_id", user.ID),
		slog.String("token_id", tokenID),
	)

	return nil
}

// Redeem validates a verification token and marks the user's email verified.
// The token id is burned first, so a replayed token fails even if the marking
// step later errors. Redeeming for an already-verified email succeeds without
// touching the original verification timestamp.
func (s *VerificationService) Redeem(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.InvalidInput("token is required")
	}

	claims, err := s.jwtManager.ValidateVerificationToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return apperrors.TokenExpired()
		}
		return apperrors.TokenMalformed()
	}

	now := time.Now().UTC()

	first, err := s.usedTokens.MarkUsed(ctx, claims.ID, now)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if !first {
		s.logger.WarnContext(ctx, "verification token replay",
			slog.String("user_id", claims.UserID),
			slog.String("token_id", claims.ID),
		)
		return apperrors.TokenReused()
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return fmt.Errorf("get user for redemption: %w", err)
	}

	// A token minted before an email change proves ownership of the old
	// address only.
	if user.Email != claims.Email {
		return apperrors.EmailMismatch()
	}

	if user.EmailVerified {
		return nil
	}

	if err := s.userRepo.MarkEmailVerified(ctx, user.ID, now); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	s.logger.InfoContext(ctx, "email verified",
		slog.String("user_id", user.ID),
	)

	return nil
}

// PruneUsedTokens removes used-token records old enough that the tokens they
// guard against can no longer validate. Meant to run from a periodic job.
func (s *VerificationService) PruneUsedTokens(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.jwtManager.VerificationExpiry())

	deleted, err := s.usedTokens.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune used tokens: %w", err)
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "pruned used verification tokens",
			slog.Int64("deleted", deleted),
		)
	}

	return deleted, nil
}
