package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/almanakh/identity/internal/auth"
	"github.com/almanakh/identity/internal/domain"
	"github.com/almanakh/identity/internal/totp"
	apperrors "github.com/almanakh/identity/pkg/errors"
)

// --- Register Tests ---

func TestRegister_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	userRepo.On("Create", ctx, mock.AnythingOfType("*domain.User")).Return(nil)
	userRepo.On("RecordLogin", ctx, mock.AnythingOfType("string"), mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).Return(nil)

	user, tokens, err := svc.Register(ctx, RegisterInput{
		Email:    "maha@example.com",
		Username: "maha",
		Password: "SecurePass123",
	})

	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, domain.RoleViewer, user.Role)
	assert.True(t, user.IsActive)
	assert.False(t, user.EmailVerified)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	userRepo.AssertExpectations(t)
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := newTestAuthService(new(mockUserRepository))
	ctx := context.Background()

	for _, password := range []string{"Ab1", "securepass123", "SECUREPASS123", "SecurePassword"} {
		_, _, err := svc.Register(ctx, RegisterInput{
			Email:    "maha@example.com",
			Username: "maha",
			Password: password,
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "password %q should be rejected", password)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	userRepo.On("Create", ctx, mock.AnythingOfType("*domain.User")).
		Return(apperrors.AlreadyExists("user", "email", "maha@example.com"))

	_, _, err := svc.Register(ctx, RegisterInput{
		Email:    "maha@example.com",
		Username: "maha",
		Password: "SecurePass123",
	})

	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	userRepo.AssertExpectations(t)
}

// --- Authenticate Tests ---

func TestAuthenticate_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	userRepo.On("GetByIdentifier", ctx, "maha").Return(user, nil)
	userRepo.On("RecordLogin", ctx, user.ID, mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).Return(nil)

	result, err := svc.Authenticate(ctx, LoginInput{Identifier: "maha", Password: "SecurePass123"})

	require.NoError(t, err)
	assert.False(t, result.TwoFactorRequired)
	assert.Empty(t, result.ChallengeToken)
	require.NotNil(t, result.Tokens)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	userRepo.AssertExpectations(t)
}

func TestAuthenticate_UnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	userRepo.On("GetByIdentifier", ctx, "ghost").Return(nil, apperrors.NotFound("user", "ghost"))
	_, errUnknown := svc.Authenticate(ctx, LoginInput{Identifier: "ghost", Password: "SecurePass123"})

	user := activeUser(t, "SecurePass123")
	userRepo.On("GetByIdentifier", ctx, "maha").Return(user, nil)
	_, errWrongPass := svc.Authenticate(ctx, LoginInput{Identifier: "maha", Password: "WrongPass123"})

	require.Error(t, errUnknown)
	require.Error(t, errWrongPass)

	var appErrUnknown, appErrWrong *apperrors.AppError
	require.ErrorAs(t, errUnknown, &appErrUnknown)
	require.ErrorAs(t, errWrongPass, &appErrWrong)
	assert.Equal(t, appErrUnknown.Code, appErrWrong.Code)
	assert.Equal(t, appErrUnknown.Message, appErrWrong.Message)
}

func TestAuthenticate_InactiveAccount(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	user.IsActive = false
	userRepo.On("GetByIdentifier", ctx, "maha").Return(user, nil)

	_, err := svc.Authenticate(ctx, LoginInput{Identifier: "maha", Password: "SecurePass123"})

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "ACCOUNT_INACTIVE", appErr.Code)
}

func TestAuthenticate_TwoFactorEnabled_ReturnsChallenge(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	user.TwoFactorEnabled = true
	user.TwoFactorSecret = "JBSWY3DPEHPK3PXP"
	userRepo.On("GetByIdentifier", ctx, "maha").Return(user, nil)

	result, err := svc.Authenticate(ctx, LoginInput{Identifier: "maha", Password: "SecurePass123"})

	require.NoError(t, err)
	assert.True(t, result.TwoFactorRequired)
	assert.Nil(t, result.Tokens)
	require.NotEmpty(t, result.ChallengeToken)

	// The challenge token must parse as a challenge and nothing else.
	claims, err := newTestJWTManager().ValidateChallengeToken(result.ChallengeToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	_, err = newTestJWTManager().ValidateAccessToken(result.ChallengeToken)
	assert.Error(t, err)
	_, err = newTestJWTManager().ValidateRefreshToken(result.ChallengeToken)
	assert.Error(t, err)

	// No session was installed.
	userRepo.AssertNotCalled(t, "RecordLogin", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// --- CompleteTwoFactor Tests ---

func TestCompleteTwoFactor_TOTPSuccess(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	secret, _, err := totp.GenerateSecret("almanakh", "maha@example.com")
	require.NoError(t, err)

	user := activeUser(t, "SecurePass123")
	user.TwoFactorEnabled = true
	user.TwoFactorSecret = secret

	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)
	userRepo.On("RecordLogin", ctx, user.ID, mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).Return(nil)

	challenge, err := newTestJWTManager().GenerateChallengeToken(user.ID)
	require.NoError(t, err)

	code := currentTOTPCode(t, secret)

	_, tokens, err := svc.CompleteTwoFactor(ctx, challenge, code)

	require.NoError(t, err)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	userRepo.AssertExpectations(t)
}

func TestCompleteTwoFactor_BackupCode(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	user.TwoFactorEnabled = true
	user.TwoFactorSecret = "JBSWY3DPEHPK3PXP"

	backupCode := "a1b2c3d4e5"
	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)
	userRepo.On("ConsumeBackupCode", ctx, user.ID, totp.HashBackupCode(backupCode)).Return(9, true, nil)
	userRepo.On("RecordLogin", ctx, user.ID, mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).Return(nil)

	challenge, err := newTestJWTManager().GenerateChallengeToken(user.ID)
	require.NoError(t, err)

	_, tokens, err := svc.CompleteTwoFactor(ctx, challenge, backupCode)

	require.NoError(t, err)
	assert.NotNil(t, tokens)
	userRepo.AssertExpectations(t)
}

func TestCompleteTwoFactor_WrongCode(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	user.TwoFactorEnabled = true
	user.TwoFactorSecret = "JBSWY3DPEHPK3PXP"

	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)
	userRepo.On("ConsumeBackupCode", ctx, user.ID, mock.AnythingOfType("string")).Return(0, false, nil)

	challenge, err := newTestJWTManager().GenerateChallengeToken(user.ID)
	require.NoError(t, err)

	_, _, err = svc.CompleteTwoFactor(ctx, challenge, "000000")

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INVALID_TWO_FACTOR_CODE", appErr.Code)
	userRepo.AssertNotCalled(t, "RecordLogin", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCompleteTwoFactor_AccessTokenRejectedAsChallenge(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	accessToken, err := newTestJWTManager().GenerateAccessToken(user)
	require.NoError(t, err)

	_, _, err = svc.CompleteTwoFactor(ctx, accessToken, "000000")

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "TOKEN_MALFORMED", appErr.Code)
}

// --- Refresh Tests ---

// refreshFixture installs a live session on the user and mints the matching
// refresh token.
func refreshFixture(t *testing.T, user *domain.User) (refreshToken, family string, issuedAt time.Time) {
	t.Helper()
	family = "11111111-2222-4333-8444-555555555555"
	issuedAt = time.Now().UTC().Truncate(time.Millisecond)
	user.RefreshTokenFamily = strPtr(family)
	user.RefreshTokenIssuedAt = timePtr(issuedAt)

	token, err := newTestJWTManager().GenerateRefreshToken(user.ID, family, issuedAt)
	require.NoError(t, err)
	return token, family, issuedAt
}

func TestRefresh_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	token, family, issuedAt := refreshFixture(t, user)

	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)
	userRepo.On("RotateRefreshToken", ctx, user.ID, family, issuedAt, mock.AnythingOfType("time.Time")).
		Return(true, nil)

	tokens, err := svc.Refresh(ctx, token)

	require.NoError(t, err)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEqual(t, token, tokens.RefreshToken)

	// The successor stays in the same family with a newer stamp.
	claims, err := newTestJWTManager().ValidateRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, family, claims.Family)
	assert.Greater(t, claims.IssuedUnixMilli, issuedAt.UnixMilli())

	userRepo.AssertExpectations(t)
}

func TestRefresh_FreshlyIssuedTokenRotates(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	userRepo.On("GetByIdentifier", ctx, "maha").Return(user, nil)

	// Install the session exactly as the store would: whatever stamp the
	// login hands over is what Refresh later reads back. The claim carries
	// milliseconds, so the two must already agree at this boundary.
	userRepo.On("RecordLogin", ctx, user.ID, mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			user.RefreshTokenFamily = strPtr(args.String(2))
			user.RefreshTokenIssuedAt = timePtr(args.Get(3).(time.Time))
		}).Return(nil)

	result, err := svc.Authenticate(ctx, LoginInput{Identifier: "maha", Password: "SecurePass123"})
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)
	require.NotNil(t, user.RefreshTokenIssuedAt)

	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)
	userRepo.On("RotateRefreshToken", ctx, user.ID, *user.RefreshTokenFamily,
		*user.RefreshTokenIssuedAt, mock.AnythingOfType("time.Time")).Return(true, nil)

	tokens, err := svc.Refresh(ctx, result.Tokens.RefreshToken)

	require.NoError(t, err)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, tokens.AccessToken)
	userRepo.AssertNotCalled(t, "ClearRefreshFamily", mock.Anything, mock.Anything)
	userRepo.AssertExpectations(t)
}

func TestRefresh_RetiredTokenRevokesFamily(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	token, family, issuedAt := refreshFixture(t, user)

	// The store has since rotated past the presented stamp.
	user.RefreshTokenIssuedAt = timePtr(issuedAt.Add(30 * time.Second))

	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)
	userRepo.On("ClearRefreshFamily", ctx, user.ID).Return(nil)

	_, err := svc.Refresh(ctx, token)

	assert.ErrorIs(t, err, apperrors.ErrTokenReused)
	userRepo.AssertCalled(t, "ClearRefreshFamily", ctx, user.ID)
	_ = family
}

func TestRefresh_ConcurrentRotationLoserRevokesFamily(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	token, family, issuedAt := refreshFixture(t, user)

	// Stamp still matches at read time, but the conditional update loses.
	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)
	userRepo.On("RotateRefreshToken", ctx, user.ID, family, issuedAt, mock.AnythingOfType("time.Time")).
		Return(false, nil)
	userRepo.On("ClearRefreshFamily", ctx, user.ID).Return(nil)

	_, err := svc.Refresh(ctx, token)

	assert.ErrorIs(t, err, apperrors.ErrTokenReused)
	userRepo.AssertExpectations(t)
}

func TestRefresh_SupersededFamilyRevokesCurrent(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	token, _, _ := refreshFixture(t, user)

	// A newer login replaced the family, so the presented token is retired.
	// Its reappearance is a replay and kills the current lineage too.
	user.RefreshTokenFamily = strPtr("99999999-8888-4777-8666-555555555555")

	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)
	userRepo.On("ClearRefreshFamily", ctx, user.ID).Return(nil)

	_, err := svc.Refresh(ctx, token)

	assert.ErrorIs(t, err, apperrors.ErrTokenReused)
	userRepo.AssertCalled(t, "ClearRefreshFamily", ctx, user.ID)
}

func TestRefresh_NoActiveSession(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "SecurePass123")
	token, _, _ := refreshFixture(t, user)
	user.RefreshTokenFamily = nil
	user.RefreshTokenIssuedAt = nil

	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)

	_, err := svc.Refresh(ctx, token)

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestRefresh_ExpiredToken(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	expiredManager := auth.NewJWTManager("test-secret-key-for-testing", 15*time.Minute, -time.Hour)
	token, err := expiredManager.GenerateRefreshToken("some-user", "some-family", time.Now().UTC())
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, token)

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "TOKEN_EXPIRED", appErr.Code)
}

func TestRefresh_GarbageToken(t *testing.T) {
	svc := newTestAuthService(new(mockUserRepository))

	_, err := svc.Refresh(context.Background(), "not-a-jwt")

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "TOKEN_MALFORMED", appErr.Code)
}

// --- Logout / ChangePassword Tests ---

func TestLogout_ClearsFamily(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	userRepo.On("ClearRefreshFamily", ctx, "user-1").Return(nil)

	require.NoError(t, svc.Logout(ctx, "user-1"))
	require.NoError(t, svc.LogoutAll(ctx, "user-1"))

	userRepo.AssertNumberOfCalls(t, "ClearRefreshFamily", 2)
}

func TestChangePassword_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "OldPassword1")
	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)
	userRepo.On("Update", ctx, user).Return(nil)
	userRepo.On("ClearRefreshFamily", ctx, user.ID).Return(nil)

	err := svc.ChangePassword(ctx, user.ID, "OldPassword1", "NewPassword2")

	require.NoError(t, err)
	userRepo.AssertExpectations(t)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(userRepo)
	ctx := context.Background()

	user := activeUser(t, "OldPassword1")
	userRepo.On("GetByID", ctx, user.ID).Return(user, nil)

	err := svc.ChangePassword(ctx, user.ID, "WrongPassword1", "NewPassword2")

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	userRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "ClearRefreshFamily", mock.Anything, mock.Anything)
}

func TestChangePassword_SameAsCurrent(t *testing.T) {
	svc := newTestAuthService(new(mockUserRepository))

	err := svc.ChangePassword(context.Background(), "user-1", "SamePassword1", "SamePassword1")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
