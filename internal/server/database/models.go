package database

import "time"

// Role is the access level of an Account.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStudent
}

// TransferStatus is the delivery state of a FileTransfer.
// It only moves forward: pending -> delivered -> viewed.
type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusDelivered TransferStatus = "delivered"
	StatusViewed    TransferStatus = "viewed"
)

func (s TransferStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusDelivered:
		return 1
	case StatusViewed:
		return 2
	default:
		return -1
	}
}

// Before reports whether s is an earlier state than other.
func (s TransferStatus) Before(other TransferStatus) bool {
	return s.rank() < other.rank()
}

// Account is a registered identity.
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string  // empty for accounts created through an external identity
	Role         Role
	GoogleID     *string // nil unless linked to a Google identity
	Name         string
	CreatedAt    time.Time
}

// DisplayName returns Name, falling back to Username.
func (a *Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Username
}

func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// FileTransfer is one file delivered from a sender to a receiver.
// Usernames are a snapshot taken when the transfer was created.
type FileTransfer struct {
	ID               string
	StoredName       string
	OriginalName     string
	StoragePath      string
	Size             int64
	MimeType         string
	SenderID         string
	SenderUsername   string
	ReceiverID       string
	ReceiverUsername string
	Status           TransferStatus
	Message          string
	SentAt           time.Time
	DeliveredAt      *time.Time
	ViewedAt         *time.Time
}

// ChatMessage is one direct message between two accounts.
type ChatMessage struct {
	ID               string
	SenderID         string
	SenderUsername   string
	ReceiverID       string
	ReceiverUsername string
	Message          string
	SentAt           time.Time
	IsRead           bool
	ReadAt           *time.Time
}

// PasswordResetToken is a single-use, time-boxed credential for resetting a password.
type PasswordResetToken struct {
	ID        string
	AccountID string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}
