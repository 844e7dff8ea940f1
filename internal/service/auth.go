package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/almanakh/identity/internal/auth"
	"github.com/almanakh/identity/internal/domain"
	"github.com/almanakh/identity/internal/event"
	"github.com/almanakh/identity/internal/repository"
	"github.com/almanakh/identity/internal/totp"
	apperrors "github.com/almanakh/identity/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// AuthService implements registration, login, two-factor completion, and the
// refresh-token rotation state machine.
type AuthService struct {
	userRepo   repository.UserRepository
	jwtManager *auth.JWTManager
	producer   *event.Producer
	logger     *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	userRepo repository.UserRepository,
	jwtManager *auth.JWTManager,
	producer *event.Producer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		producer:   producer,
		logger:     logger,
	}
}

// --- Input/Output types ---

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email    string
	Username string
	Password string
}

// LoginInput holds the parameters for user login. Identifier is an email
// address or a username.
type LoginInput struct {
	Identifier string
	Password   string
}

// LoginResult is the outcome of a credential check. Exactly one of Tokens or
// ChallengeToken is set: accounts with two-factor enabled receive a short
// challenge token instead of a session.
type LoginResult struct {
	User              *domain.User
	Tokens            *domain.TokenPair
	TwoFactorRequired bool
	ChallengeToken    string
}

// --- Operations ---

// Register creates a new user account, hashes the password, and returns the
// user with an initial token pair.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Username == "" {
		return nil, nil, apperrors.InvalidInput("username is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        input.Email,
		Username:     input.Username,
		PasswordHash: string(hashedPassword),
		Role:         domain.RoleViewer,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	tokens, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("issue session: %w", err)
	}

	// Publish registration event (non-blocking on failure).
	if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, tokens, nil
}

// Authenticate checks an identifier/password pair. Unknown accounts and wrong
// passwords produce the same error so callers cannot probe which emails or
// usernames exist. Accounts with two-factor enabled get a challenge token;
// everyone else gets a fresh session.
func (s *AuthService) Authenticate(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if input.Identifier == "" {
		return nil, apperrors.InvalidInput("email or username is required")
	}
	if input.Password == "" {
		return nil, apperrors.InvalidInput("password is required")
	}

	user, err := s.userRepo.GetByIdentifier(ctx, input.Identifier)
	if err != nil {
		return nil, apperrors.InvalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, apperrors.InvalidCredentials()
	}

	if !user.IsActive {
		return nil, apperrors.AccountInactive()
	}

	if user.TwoFactorEnabled {
		challenge, err := s.jwtManager.GenerateChallengeToken(user.ID)
		if err != nil {
			return nil, fmt.Errorf("generate challenge token: %w", err)
		}

		s.logger.InfoContext(ctx, "login pending two-factor proof",
			slog.String("user_id", user.ID),
		)

		return &LoginResult{
			User:              user,
			TwoFactorRequired: true,
			ChallengeToken:    challenge,
		}, nil
	}

	tokens, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
	)

	return &LoginResult{User: user, Tokens: tokens}, nil
}

// CompleteTwoFactor exchanges a challenge token plus a TOTP or backup code
// for a full session. The challenge token alone grants nothing.
func (s *AuthService) CompleteTwoFactor(ctx context.Context, challengeToken, code string) (*domain.User, *domain.TokenPair, error) {
	if challengeToken == "" {
		return nil, nil, apperrors.InvalidInput("challenge token is required")
	}
	if code == "" {
		return nil, nil, apperrors.InvalidInput("code is required")
	}

	claims, err := s.jwtManager.ValidateChallengeToken(challengeToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, nil, apperrors.TokenExpired()
		}
		return nil, nil, apperrors.TokenMalformed()
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, apperrors.InvalidCredentials()
	}

	if !user.IsActive {
		return nil, nil, apperrors.AccountInactive()
	}
	if !user.TwoFactorEnabled {
		return nil, nil, apperrors.TokenMalformed()
	}

	if !s.proveSecondFactor(ctx, user, code) {
		return nil, nil, apperrors.InvalidTwoFactorCode()
	}

	tokens, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("issue session: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in with two-factor",
		slog.String("user_id", user.ID),
	)

	return user, tokens, nil
}

// Refresh rotates a refresh token: the presented token is retired and a
// successor in the same family is issued. A retired token presented again is
// treated as theft and revokes the whole family.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.TokenMalformed()
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperrors.Unauthorized("session revoked")
	}

	if !user.IsActive {
		return nil, apperrors.AccountInactive()
	}

	// No current family means the session was logged out or already revoked.
	if user.RefreshTokenFamily == nil || user.RefreshTokenIssuedAt == nil {
		return nil, apperrors.Unauthorized("session revoked")
	}

	// A token from a superseded family reappearing means a retired token is
	// being replayed. The current lineage dies with it.
	if *user.RefreshTokenFamily != claims.Family {
		return nil, s.revokeOnReuse(ctx, user.ID, claims.Family)
	}

	presented := time.UnixMilli(claims.IssuedUnixMilli).UTC()

	// Same family but an older stamp: this token was already rotated away.
	// Someone is holding a retired token, so the whole family dies.
	if !user.RefreshTokenIssuedAt.Equal(presented) {
		return nil, s.revokeOnReuse(ctx, user.ID, claims.Family)
	}

	// The claim carries the stamp at millisecond precision, so the stored
	// successor must be millisecond-exact or the next rotation compare fails.
	next := time.Now().UTC().Truncate(time.Millisecond)
	rotated, err := s.userRepo.RotateRefreshToken(ctx, user.ID, claims.Family, presented, next)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	// Losing the conditional update means a concurrent request rotated first.
	// The presented token is therefore already retired: same theft response.
	if !rotated {
		return nil, s.revokeOnReuse(ctx, user.ID, claims.Family)
	}

	tokens, err := s.mintTokenPair(user, claims.Family, next)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "refresh token rotated",
		slog.String("user_id", user.ID),
		slog.String("family", claims.Family),
	)

	return tokens, nil
}

// Logout revokes the user's current refresh lineage. Access tokens already in
// flight stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.userRepo.ClearRefreshFamily(ctx, userID); err != nil {
		return fmt.Errorf("clear refresh family: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", userID),
	)

	return nil
}

// LogoutAll revokes every outstanding refresh token for the user. Because a
// login supersedes the previous family, there is only ever one live lineage,
// so this is the same revocation as Logout; the separate entry point keeps
// the contract explicit for clients.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.userRepo.ClearRefreshFamily(ctx, userID); err != nil {
		return fmt.Errorf("clear refresh family: %w", err)
	}

	s.logger.InfoContext(ctx, "all sessions revoked",
		slog.String("user_id", userID),
	)

	return nil
}

// ChangePassword allows an authenticated user to change their password. The
// refresh lineage is revoked so other devices must log in again.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for password change: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	user.PasswordHash = string(hashedPassword)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	if err := s.userRepo.ClearRefreshFamily(ctx, user.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke sessions after password change",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", user.ID),
	)

	return nil
}

// GetProfile retrieves a user by their ID.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}

// --- Helpers ---

// issueSession starts a fresh refresh-token family for the user and returns
// the access/refresh pair. Any previous family is superseded.
func (s *AuthService) issueSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	family := uuid.New().String()
	// Millisecond precision: the refresh claim round-trips the stamp as unix
	// milliseconds, and Refresh compares it against the stored value exactly.
	issuedAt := time.Now().UTC().Truncate(time.Millisecond)

	tokens, err := s.mintTokenPair(user, family, issuedAt)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.RecordLogin(ctx, user.ID, family, issuedAt, issuedAt); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	return tokens, nil
}

// mintTokenPair signs an access token with the user's current permission
// snapshot plus a refresh token bound to the given family and stamp.
func (s *AuthService) mintTokenPair(user *domain.User, family string, issuedAt time.Time) (*domain.TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, family, issuedAt)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// proveSecondFactor accepts either a live TOTP code or an unspent backup
// code. Backup codes burn on use.
func (s *AuthService) proveSecondFactor(ctx context.Context, user *domain.User, code string) bool {
	if totp.ValidateCode(code, user.TwoFactorSecret) {
		return true
	}

	remaining, ok, err := s.userRepo.ConsumeBackupCode(ctx, user.ID, totp.HashBackupCode(code))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to consume backup code",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !ok {
		return false
	}

	s.logger.InfoContext(ctx, "backup code consumed",
		slog.String("user_id", user.ID),
		slog.Int("codes_remaining", remaining),
	)

	return true
}

// revokeOnReuse kills the refresh lineage after a retired token reappears and
// emits the audit event. Always returns the reuse error for the caller.
func (s *AuthService) revokeOnReuse(ctx context.Context, userID, family string) error {
	if err := s.userRepo.ClearRefreshFamily(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke family after token reuse",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishTokenReuseDetected(ctx, userID, family); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish security.token_reuse event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.WarnContext(ctx, "refresh token reuse detected",
		slog.String("user_id", userID),
		slog.String("family", family),
	)

	return apperrors.TokenReused()
}

// validatePassword checks that the password meets minimum complexity
// requirements.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}
