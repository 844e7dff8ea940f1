package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UsedTokenRepository implements repository.UsedTokenRepository using
// PostgreSQL. Each row burns one email-verification token id.
type UsedTokenRepository struct {
	db DB
}

// NewUsedTokenRepository creates a new PostgreSQL-backed used-token repository.
func NewUsedTokenRepository(db DB) *UsedTokenRepository {
	return &UsedTokenRepository{db: db}
}

// MarkUsed burns the token id. The conditional insert is the replay guard:
// of two concurrent redemptions, exactly one inserts a row and the other
// observes zero rows affected.
func (r *UsedTokenRepository) MarkUsed(ctx context.Context, tokenID string, usedAt time.Time) (bool, error) {
	query := `
		INSERT INTO used_email_tokens (token_id, used_at)
		VALUES ($1, $2)
		ON CONFLICT (token_id) DO NOTHING`

	ct, err := r.db.Exec(ctx, query, tokenID, usedAt)
	if err != nil {
		return false, fmt.Errorf("mark token used: %w", err)
	}

	return ct.RowsAffected() == 1, nil
}

// UsedAt returns when the token id was redeemed, or nil if it never was.
func (r *UsedTokenRepository) UsedAt(ctx context.Context, tokenID string) (*time.Time, error) {
	query := `SELECT used_at FROM used_email_tokens WHERE token_id = $1`

	var usedAt time.Time
	err := r.db.QueryRow(ctx, query, tokenID).Scan(&usedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query used token: %w", err)
	}

	return &usedAt, nil
}

// DeleteExpiredBefore prunes burn records older than the cutoff. Pruning
// earlier than the token's maximum validity window would reopen the replay
// hole, so callers must pass a cutoff at least that far in the past.
func (r *UsedTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM used_email_tokens WHERE used_at < $1`

	ct, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune used tokens: %w", err)
	}

	return ct.RowsAffected(), nil
}
