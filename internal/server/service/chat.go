package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedbackhub/internal/server/database"
)

const maxConversationMessages = 100

// Message is a chat message as returned to clients.
type Message struct {
	ID               string     `json:"id"`
	SenderID         string     `json:"senderId"`
	SenderUsername   string     `json:"senderUsername"`
	ReceiverID       string     `json:"receiverId"`
	ReceiverUsername string     `json:"receiverUsername"`
	Message          string     `json:"message"`
	SentAt           time.Time  `json:"sentAt"`
	IsRead           bool       `json:"isRead"`
	ReadAt           *time.Time `json:"readAt"`
}

// ChatService contains direct messaging between admins.
type ChatService struct {
	accounts AccountStore
	chats    ChatStore
	notifier Notifier
	now      func() time.Time
}

// NewChatService creates a new chat service. A nil notifier disables push events.
func NewChatService(accounts AccountStore, chats ChatStore, notifier Notifier) *ChatService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &ChatService{
		accounts: accounts,
		chats:    chats,
		notifier: notifier,
		now:      time.Now,
	}
}

// SendMessage stores a message from senderID to receiverID and notifies the receiver.
func (s *ChatService) SendMessage(ctx context.Context, senderID, receiverID, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if receiverID == "" || text == "" {
		return nil, newError(ErrValidation, "Receiver ID and message are required")
	}

	sender, err := s.accounts.GetAccountByID(ctx, senderID)
	if err != nil {
		return nil, accountLookupError(err)
	}
	receiver, err := s.accounts.GetAccountByID(ctx, receiverID)
	if err != nil {
		return nil, accountLookupError(err)
	}
	if !receiver.IsAdmin() {
		return nil, newError(ErrValidation, "Messages can only be sent to admin users")
	}

	msg := &database.ChatMessage{
		ID:               uuid.NewString(),
		SenderID:         sender.ID,
		SenderUsername:   sender.Username,
		ReceiverID:       receiver.ID,
		ReceiverUsername: receiver.Username,
		Message:          text,
		SentAt:           s.now().UTC(),
	}
	if err := s.chats.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	slog.Debug("chat message sent", "message_id", msg.ID, "sender_id", sender.ID, "receiver_id", receiver.ID)

	s.notifier.Emit(receiver.ID, EventChatMessage, ChatMessageEvent{
		ID:             msg.ID,
		SenderID:       msg.SenderID,
		SenderUsername: msg.SenderUsername,
		Message:        msg.Message,
		SentAt:         msg.SentAt,
	})

	out := chatMessage(msg)
	return &out, nil
}

// ListConversation returns the latest messages between callerID and otherID,
// oldest first, and marks the ones otherID sent to the caller as read.
func (s *ChatService) ListConversation(ctx context.Context, callerID, otherID string) ([]Message, error) {
	messages, err := s.chats.ListConversation(ctx, callerID, otherID, maxConversationMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}

	now := s.now().UTC()
	if _, err := s.chats.MarkConversationRead(ctx, otherID, callerID, now); err != nil {
		slog.Error("failed to mark conversation read", "receiver_id", callerID, "sender_id", otherID, "error", err)
	}

	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		v := chatMessage(m)
		if m.SenderID == otherID && m.ReceiverID == callerID && !m.IsRead {
			v.IsRead = true
			v.ReadAt = &now
		}
		out = append(out, v)
	}
	return out, nil
}

// UnreadCount returns how many messages addressed to accountID are unread.
func (s *ChatService) UnreadCount(ctx context.Context, accountID string) (int64, error) {
	n, err := s.chats.CountUnread(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

func chatMessage(m *database.ChatMessage) Message {
	return Message{
		ID:               m.ID,
		SenderID:         m.SenderID,
		SenderUsername:   m.SenderUsername,
		ReceiverID:       m.ReceiverID,
		ReceiverUsername: m.ReceiverUsername,
		Message:          m.Message,
		SentAt:           m.SentAt,
		IsRead:           m.IsRead,
		ReadAt:           m.ReadAt,
	}
}
