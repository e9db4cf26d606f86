package service

import (
	"context"
	"time"

	"feedbackhub/internal/server/database"
)

// AccountStore persists accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *database.Account) error
	GetAccountByID(ctx context.Context, id string) (*database.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*database.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*database.Account, error)
	AccountExists(ctx context.Context, username, email string) (bool, error)
	UpdateAccountName(ctx context.Context, id, name string) error
	UpdateAccountPassword(ctx context.Context, id, hash string) error
	ListAdmins(ctx context.Context, excludeID string) ([]*database.Account, error)
}

// TransferStore persists file transfers and their status transitions.
type TransferStore interface {
	CreateTransfer(ctx context.Context, t *database.FileTransfer) error
	GetTransfer(ctx context.Context, id string) (*database.FileTransfer, error)
	ListSentTransfers(ctx context.Context, senderID string, limit int) ([]*database.FileTransfer, error)
	ListReceivedTransfers(ctx context.Context, receiverID string, limit int) ([]*database.FileTransfer, error)
	MarkTransfersDelivered(ctx context.Context, receiverID string, at time.Time) (int64, error)
	MarkTransferViewed(ctx context.Context, id string, at time.Time) (bool, error)
}

// ChatStore persists chat messages.
type ChatStore interface {
	CreateMessage(ctx context.Context, m *database.ChatMessage) error
	ListConversation(ctx context.Context, a, b string, limit int) ([]*database.ChatMessage, error)
	MarkConversationRead(ctx context.Context, senderID, receiverID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, receiverID string) (int64, error)
}

// ResetTokenStore persists password reset tokens.
type ResetTokenStore interface {
	CreateResetToken(ctx context.Context, t *database.PasswordResetToken) error
	DeleteResetTokens(ctx context.Context, accountID string) error
	GetValidResetToken(ctx context.Context, token string, now time.Time) (*database.PasswordResetToken, error)
	MarkResetTokenUsed(ctx context.Context, id string) (bool, error)
}

// Repository is everything the services need from persistence. Both
// *database.Repository and *memdb.Store satisfy it.
type Repository interface {
	AccountStore
	TransferStore
	ChatStore
	ResetTokenStore
	ListTransfersSentBefore(ctx context.Context, cutoff time.Time) ([]*database.FileTransfer, error)
	DeleteTransfer(ctx context.Context, id string) error
	PurgeResetTokens(ctx context.Context, now time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
}

// Notifier pushes best-effort events to an account's realtime room.
type Notifier interface {
	Emit(room, event string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Emit(string, string, any) {}

// Event names pushed through the Notifier.
const (
	EventFileReceived = "fileReceived"
	EventChatMessage  = "chatMessage"
)

// FileReceivedEvent is pushed to the receiver of a new transfer.
type FileReceivedEvent struct {
	ID             string    `json:"id"`
	FileName       string    `json:"fileName"`
	SenderUsername string    `json:"senderUsername"`
	Message        string    `json:"message"`
	SentAt         time.Time `json:"sentAt"`
}

// ChatMessageEvent is pushed to the receiver of a new chat message.
type ChatMessageEvent struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername"`
	Message        string    `json:"message"`
	SentAt         time.Time `json:"sentAt"`
}
