package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingSecretKeyPrefix = "identity:2fa:pending:"
	cooldownKeyPrefix      = "identity:verify:cooldown:"
)

// ChallengeStore implements repository.ChallengeStore on Redis. Pending
// two-factor secrets and verification cooldowns are ephemeral by nature, so
// TTL-bearing keys fit them better than user-row columns.
type ChallengeStore struct {
	client         *redis.Client
	pendingTTL     time.Duration
	cooldownWindow time.Duration
}

// NewChallengeStore creates a store with the given pending-secret TTL and
// verification cooldown window.
func NewChallengeStore(client *redis.Client, pendingTTL, cooldownWindow time.Duration) *ChallengeStore {
	return &ChallengeStore{
		client:         client,
		pendingTTL:     pendingTTL,
		cooldownWindow: cooldownWindow,
	}
}

// StorePendingSecret stashes an unproven TOTP secret. The TTL bounds the
// window between enrollment and proof; an unconfirmed secret simply expires.
func (s *ChallengeStore) StorePendingSecret(ctx context.Context, userID, secret string) error {
	if err := s.client.Set(ctx, pendingSecretKeyPrefix+userID, secret, s.pendingTTL).Err(); err != nil {
		return fmt.Errorf("store pending 2fa secret: %w", err)
	}
	return nil
}

// PendingSecret returns the stashed secret, or "" when none is pending.
func (s *ChallengeStore) PendingSecret(ctx context.Context, userID string) (string, error) {
	secret, err := s.client.Get(ctx, pendingSecretKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get pending 2fa secret: %w", err)
	}
	return secret, nil
}

// DeletePendingSecret discards the pending secret.
func (s *ChallengeStore) DeletePendingSecret(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, pendingSecretKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("delete pending 2fa secret: %w", err)
	}
	return nil
}

// AcquireVerificationCooldown claims the per-user send slot with a single
// SET NX PX, so two concurrent send requests cannot both pass the cooldown
// check before either timestamp lands.
func (s *ChallengeStore) AcquireVerificationCooldown(ctx context.Context, userID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, cooldownKeyPrefix+userID, time.Now().UTC().Format(time.RFC3339), s.cooldownWindow).Result()
	if err != nil {
		return false, fmt.Errorf("acquire verification cooldown: %w", err)
	}
	return ok, nil
}
