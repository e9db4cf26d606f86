package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateResetToken inserts a new password reset token.
func (r *Repository) CreateResetToken(ctx context.Context, t *PasswordResetToken) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, account_id, token, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.AccountID, t.Token, t.CreatedAt, t.ExpiresAt, t.Used)
	if err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}
	return nil
}

// DeleteResetTokens removes every reset token issued to accountID.
func (r *Repository) DeleteResetTokens(ctx context.Context, accountID string) error {
	if _, err := r.db.Pool.Exec(ctx,
		"DELETE FROM password_reset_tokens WHERE account_id = $1", accountID); err != nil {
		return fmt.Errorf("failed to delete reset tokens: %w", err)
	}
	return nil
}

// GetValidResetToken returns the unused, unexpired token matching token.
func (r *Repository) GetValidResetToken(ctx context.Context, token string, now time.Time) (*PasswordResetToken, error) {
	t := &PasswordResetToken{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, account_id, token, created_at, expires_at, used
		FROM password_reset_tokens
		WHERE token = $1 AND expires_at > $2 AND used = FALSE
	`, token, now).Scan(&t.ID, &t.AccountID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}
	return t, nil
}

// MarkResetTokenUsed consumes a token. It reports false when the token had
// already been used, so only one caller can redeem it.
func (r *Repository) MarkResetTokenUsed(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE password_reset_tokens SET used = TRUE WHERE id = $1 AND used = FALSE", id)
	if err != nil {
		return false, fmt.Errorf("failed to mark reset token used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeResetTokens deletes expired or used tokens.
func (r *Repository) PurgeResetTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		"DELETE FROM password_reset_tokens WHERE expires_at <= $1 OR used = TRUE", now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge reset tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
