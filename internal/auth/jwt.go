package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/almanakh/identity/internal/domain"
)

const issuer = "identity-service"

// Purpose values scope single-use token kinds so one kind can never be
// presented where another is expected.
const (
	purposeTwoFactorChallenge = "2fa_challenge"
	purposeEmailVerification  = "email_verification"
)

// Sentinel errors for token validation. Expiry is separated from every other
// failure mode so the service layer can map it to its own error code.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// AccessClaims are the claims carried by an access token: the resolved
// identity plus a permission snapshot valid for the token's short lifetime.
type AccessClaims struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims carried by a refresh token. Family identifies
// the lineage descending from one login; IssuedUnixMilli is this token's own
// issuance stamp, compared against the server-side pointer on rotation.
type RefreshClaims struct {
	UserID          string `json:"user_id"`
	Family          string `json:"family"`
	IssuedUnixMilli int64  `json:"issued_ms"`
	jwt.RegisteredClaims
}

// ChallengeClaims are the claims carried by the short-lived token that bridges
// a password-verified login to its pending two-factor step.
type ChallengeClaims struct {
	UserID  string `json:"user_id"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// VerificationClaims are the claims carried by an email-verification token:
// a signed, time-boxed capsule of {user_id, email, issued_at} plus a unique
// token id used for single-use tracking.
type VerificationClaims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates every token kind the identity core issues.
type JWTManager struct {
	secret             []byte
	accessExpiry       time.Duration
	refreshExpiry      time.Duration
	challengeExpiry    time.Duration
	verificationExpiry time.Duration
}

// NewJWTManager creates a new JWT manager. Challenge tokens live 5 minutes
// and verification tokens 24 hours regardless of the access/refresh expiries.
func NewJWTManager(secret string, accessExpiry, refreshExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:             []byte(secret),
		accessExpiry:       accessExpiry,
		refreshExpiry:      refreshExpiry,
		challengeExpiry:    5 * time.Minute,
		verificationExpiry: 24 * time.Hour,
	}
}

// AccessExpiry returns the configured access-token lifetime.
func (m *JWTManager) AccessExpiry() time.Duration {
	return m.accessExpiry
}

// VerificationExpiry returns the email-verification token lifetime. Used-token
// records must be retained at least this long.
func (m *JWTManager) VerificationExpiry() time.Duration {
	return m.verificationExpiry
}

// GenerateAccessToken creates a signed access token for the user, embedding
// the resolved permission snapshot.
func (m *JWTManager) GenerateAccessToken(user *domain.User) (string, error) {
	now := time.Now().UTC()
	claims := &AccessClaims{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        string(user.Role),
		Permissions: user.Permissions().List(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessExpiry)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signedToken, nil
}

// GenerateRefreshToken creates a signed refresh token carrying the family id
// and the given issuance stamp in Unix milliseconds.
func (m *JWTManager) GenerateRefreshToken(userID, family string, issuedAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := &RefreshClaims{
		UserID:          userID,
		Family:          family,
		IssuedUnixMilli: issuedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshExpiry)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	return signedToken, nil
}

// GenerateChallengeToken creates the intermediate token returned when a
// password check succeeds but two-factor proof is still outstanding.
func (m *JWTManager) GenerateChallengeToken(userID string) (string, error) {
	now := time.Now().UTC()
	claims := &ChallengeClaims{
		UserID:  userID,
		Purpose: purposeTwoFactorChallenge,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.challengeExpiry)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign challenge token: %w", err)
	}

	return signedToken, nil
}

// GenerateVerificationToken creates a signed, time-boxed email-ownership
// proof. The jti is the identity under which redemption is tracked.
func (m *JWTManager) GenerateVerificationToken(userID, email, tokenID string) (string, error) {
	now := time.Now().UTC()
	claims := &VerificationClaims{
		UserID:  userID,
		Email:   email,
		Purpose: purposeEmailVerification,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.verificationExpiry)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign verification token: %w", err)
	}

	return signedToken, nil
}

// ValidateAccessToken parses and validates an access token. Role and email
// are only ever set on access tokens, so their absence rejects the other
// token kinds signed with the same key.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.Role == "" || claims.Email == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ValidateRefreshToken parses and validates a refresh token. Signature and
// expiry checks are pure; family/stamp comparison against the server-side
// pointer is the caller's job.
func (m *JWTManager) ValidateRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Family == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ValidateChallengeToken parses and validates a two-factor challenge token.
func (m *JWTManager) ValidateChallengeToken(tokenString string) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != purposeTwoFactorChallenge {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ValidateVerificationToken parses and validates an email-verification token.
func (m *JWTManager) ValidateVerificationToken(tokenString string) (*VerificationClaims, error) {
	claims := &VerificationClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != purposeEmailVerification || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *JWTManager) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
