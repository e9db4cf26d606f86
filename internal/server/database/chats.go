package database

import (
	"context"
	"fmt"
	"time"
)

const chatColumns = `id, sender_id, sender_username, receiver_id, receiver_username,
	message, sent_at, is_read, read_at`

// CreateMessage inserts a new chat message.
func (r *Repository) CreateMessage(ctx context.Context, m *ChatMessage) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO chat_messages (`+chatColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		m.ID,
		m.SenderID,
		m.SenderUsername,
		m.ReceiverID,
		m.ReceiverUsername,
		m.Message,
		m.SentAt,
		m.IsRead,
		m.ReadAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create chat message: %w", err)
	}
	return nil
}

// ListConversation returns the latest limit messages exchanged between a and b,
// oldest first.
func (r *Repository) ListConversation(ctx context.Context, a, b string, limit int) ([]*ChatMessage, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+chatColumns+` FROM (
			SELECT `+chatColumns+`
			FROM chat_messages
			WHERE (sender_id = $1 AND receiver_id = $2)
			   OR (sender_id = $2 AND receiver_id = $1)
			ORDER BY sent_at DESC, id DESC
			LIMIT $3
		) latest
		ORDER BY sent_at ASC, id ASC
	`, a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		m := &ChatMessage{}
		if err := rows.Scan(
			&m.ID,
			&m.SenderID,
			&m.SenderUsername,
			&m.ReceiverID,
			&m.ReceiverUsername,
			&m.Message,
			&m.SentAt,
			&m.IsRead,
			&m.ReadAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkConversationRead flags every unread message from senderID to
// receiverID as read. read_at is only ever written once per message.
func (r *Repository) MarkConversationRead(ctx context.Context, senderID, receiverID string, at time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE chat_messages
		SET is_read = TRUE, read_at = $3
		WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE
	`, senderID, receiverID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread returns how many messages addressed to receiverID are unread.
func (r *Repository) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM chat_messages WHERE receiver_id = $1 AND is_read = FALSE",
		receiverID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}
