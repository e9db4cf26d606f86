package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const transferColumns = `id, stored_name, original_name, storage_path, size_bytes, mime_type,
	sender_id, sender_username, receiver_id, receiver_username,
	status, message, sent_at, delivered_at, viewed_at`

func scanTransfer(row scanner) (*FileTransfer, error) {
	t := &FileTransfer{}
	err := row.Scan(
		&t.ID,
		&t.StoredName,
		&t.OriginalName,
		&t.StoragePath,
		&t.Size,
		&t.MimeType,
		&t.SenderID,
		&t.SenderUsername,
		&t.ReceiverID,
		&t.ReceiverUsername,
		&t.Status,
		&t.Message,
		&t.SentAt,
		&t.DeliveredAt,
		&t.ViewedAt,
	)
	return t, err
}

func (r *Repository) queryTransfers(ctx context.Context, sql string, args ...any) ([]*FileTransfer, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*FileTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// CreateTransfer inserts a new file transfer record.
func (r *Repository) CreateTransfer(ctx context.Context, t *FileTransfer) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO file_transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		t.ID,
		t.StoredName,
		t.OriginalName,
		t.StoragePath,
		t.Size,
		t.MimeType,
		t.SenderID,
		t.SenderUsername,
		t.ReceiverID,
		t.ReceiverUsername,
		t.Status,
		t.Message,
		t.SentAt,
		t.DeliveredAt,
		t.ViewedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	return nil
}

// GetTransfer retrieves a transfer by its id.
func (r *Repository) GetTransfer(ctx context.Context, id string) (*FileTransfer, error) {
	t, err := scanTransfer(r.db.Pool.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM file_transfers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

// ListSentTransfers returns the newest transfers sent by senderID.
func (r *Repository) ListSentTransfers(ctx context.Context, senderID string, limit int) ([]*FileTransfer, error) {
	return r.queryTransfers(ctx, `
		SELECT `+transferColumns+`
		FROM file_transfers
		WHERE sender_id = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2
	`, senderID, limit)
}

// ListReceivedTransfers returns the newest transfers addressed to receiverID.
func (r *Repository) ListReceivedTransfers(ctx context.Context, receiverID string, limit int) ([]*FileTransfer, error) {
	return r.queryTransfers(ctx, `
		SELECT `+transferColumns+`
		FROM file_transfers
		WHERE receiver_id = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2
	`, receiverID, limit)
}

// MarkTransfersDelivered moves every pending transfer of receiverID to
// delivered. Rows that already left pending are untouched, so concurrent
// callers never overwrite delivered_at.
func (r *Repository) MarkTransfersDelivered(ctx context.Context, receiverID string, at time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE file_transfers
		SET status = $2, delivered_at = $3
		WHERE receiver_id = $1 AND status = $4
	`, receiverID, StatusDelivered, at, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to mark transfers delivered: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkTransferViewed moves a transfer to viewed unless it already is.
// A transfer that skipped delivered gets delivered_at set to the same instant.
// It reports whether this call performed the transition.
func (r *Repository) MarkTransferViewed(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE file_transfers
		SET status = $2, viewed_at = $3, delivered_at = COALESCE(delivered_at, $3)
		WHERE id = $1 AND status <> $2
	`, id, StatusViewed, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark transfer viewed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListTransfersSentBefore returns transfers sent before cutoff.
func (r *Repository) ListTransfersSentBefore(ctx context.Context, cutoff time.Time) ([]*FileTransfer, error) {
	return r.queryTransfers(ctx, `
		SELECT `+transferColumns+`
		FROM file_transfers
		WHERE sent_at < $1
	`, cutoff)
}

// DeleteTransfer removes a transfer record by id.
func (r *Repository) DeleteTransfer(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM file_transfers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
