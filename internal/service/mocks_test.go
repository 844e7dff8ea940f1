package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/almanakh/identity/internal/auth"
	"github.com/almanakh/identity/internal/domain"
	"github.com/almanakh/identity/internal/event"
	pkgkafka "github.com/almanakh/identity/pkg/kafka"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) RecordLogin(ctx context.Context, id, family string, issuedAt, loginAt time.Time) error {
	args := m.Called(ctx, id, family, issuedAt, loginAt)
	return args.Error(0)
}

func (m *mockUserRepository) RotateRefreshToken(ctx context.Context, id, family string, prev, next time.Time) (bool, error) {
	args := m.Called(ctx, id, family, prev, next)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepository) ClearRefreshFamily(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockUserRepository) EnableTwoFactor(ctx context.Context, id, secret string, backupCodeHashes []string, verifiedAt time.Time) error {
	args := m.Called(ctx, id, secret, backupCodeHashes, verifiedAt)
	return args.Error(0)
}

func (m *mockUserRepository) DisableTwoFactor(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockUserRepository) ConsumeBackupCode(ctx context.Context, id, codeHash string) (int, bool, error) {
	args := m.Called(ctx, id, codeHash)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *mockUserRepository) MarkEmailVerified(ctx context.Context, id string, verifiedAt time.Time) error {
	args := m.Called(ctx, id, verifiedAt)
	return args.Error(0)
}

// --- Mock Used Token Repository ---

type mockUsedTokenRepository struct {
	mock.Mock
}

func (m *mockUsedTokenRepository) MarkUsed(ctx context.Context, tokenID string, usedAt time.Time) (bool, error) {
	args := m.Called(ctx, tokenID, usedAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockUsedTokenRepository) UsedAt(ctx context.Context, tokenID string) (*time.Time, error) {
	args := m.Called(ctx, tokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *mockUsedTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// --- Mock Challenge Store ---

type mockChallengeStore struct {
	mock.Mock
}

func (m *mockChallengeStore) StorePendingSecret(ctx context.Context, userID, secret string) error {
	args := m.Called(ctx, userID, secret)
	return args.Error(0)
}

func (m *mockChallengeStore) PendingSecret(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockChallengeStore) DeletePendingSecret(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockChallengeStore) AcquireVerificationCooldown(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestJWTManager() *auth.JWTManager {
	return auth.NewJWTManager("test-secret-key-for-testing", 15*time.Minute, 7*24*time.Hour)
}

func newTestEventProducer() *event.Producer {
	logger := newTestLogger()
	kafkaCfg := pkgkafka.DefaultProducerConfig([]string{"localhost:9092"})
	kafkaProducer := pkgkafka.NewProducer(kafkaCfg, logger)
	return event.NewProducer(kafkaProducer, logger)
}

func newTestAuthService(userRepo *mockUserRepository) *AuthService {
	return NewAuthService(userRepo, newTestJWTManager(), newTestEventProducer(), newTestLogger())
}

// hashForTest creates a bcrypt hash with cost 4 for fast tests.
func hashForTest(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), 4)
	require.NoError(t, err)
	return string(h)
}

func strPtr(s string) *string {
	return &s
}

func timePtr(ts time.Time) *time.Time {
	return &ts
}

// currentTOTPCode computes the code an authenticator app would show right now.
func currentTOTPCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)
	return code
}

// activeUser returns a minimal active user with the given password hashed.
func activeUser(t *testing.T, password string) *domain.User {
	t.Helper()
	now := time.Now().UTC()
	return &domain.User{
		ID:           "5f6d7e8f-0000-4000-8000-000000000001",
		Email:        "maha@example.com",
		Username:     "maha",
		PasswordHash: hashForTest(t, password),
		Role:         domain.RoleContributor,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
