// Package memdb is an in-process implementation of the persistence methods of
// database.Repository. It backs tests and the memory:// development mode.
package memdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"feedbackhub/internal/server/database"
)

type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*database.Account
	transfers   map[string]*database.FileTransfer
	messages    map[string]*database.ChatMessage
	resetTokens map[string]*database.PasswordResetToken
}

func New() *Store {
	return &Store{
		accounts:    make(map[string]*database.Account),
		transfers:   make(map[string]*database.FileTransfer),
		messages:    make(map[string]*database.ChatMessage),
		resetTokens: make(map[string]*database.PasswordResetToken),
	}
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(context.Context) error { return nil }

// Accounts

func (s *Store) CreateAccount(_ context.Context, a *database.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.ID == a.ID || existing.Username == a.Username || existing.Email == a.Email {
			return database.ErrDuplicate
		}
		if a.GoogleID != nil && existing.GoogleID != nil && *existing.GoogleID == *a.GoogleID {
			return database.ErrDuplicate
		}
	}
	s.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (s *Store) findAccount(match func(*database.Account) bool) (*database.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if match(a) {
			return cloneAccount(a), nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *Store) GetAccountByID(_ context.Context, id string) (*database.Account, error) {
	return s.findAccount(func(a *database.Account) bool { return a.ID == id })
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (*database.Account, error) {
	return s.findAccount(func(a *database.Account) bool { return a.Username == username })
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*database.Account, error) {
	return s.findAccount(func(a *database.Account) bool { return a.Email == email })
}

func (s *Store) AccountExists(_ context.Context, username, email string) (bool, error) {
	_, err := s.findAccount(func(a *database.Account) bool {
		return a.Username == username || a.Email == email
	})
	if err == database.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) updateAccount(id string, fn func(*database.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return database.ErrNotFound
	}
	fn(a)
	return nil
}

func (s *Store) UpdateAccountName(_ context.Context, id, name string) error {
	return s.updateAccount(id, func(a *database.Account) { a.Name = name })
}

func (s *Store) UpdateAccountPassword(_ context.Context, id, hash string) error {
	return s.updateAccount(id, func(a *database.Account) { a.PasswordHash = hash })
}

func (s *Store) ListAdmins(_ context.Context, excludeID string) ([]*database.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var admins []*database.Account
	for _, a := range s.accounts {
		if a.Role == database.RoleAdmin && a.ID != excludeID {
			admins = append(admins, cloneAccount(a))
		}
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].Username < admins[j].Username })
	return admins, nil
}

// Transfers

func (s *Store) CreateTransfer(_ context.Context, t *database.FileTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[t.ID]; ok {
		return database.ErrDuplicate
	}
	s.transfers[t.ID] = cloneTransfer(t)
	return nil
}

func (s *Store) GetTransfer(_ context.Context, id string) (*database.FileTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transfers[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cloneTransfer(t), nil
}

func (s *Store) listTransfers(limit int, match func(*database.FileTransfer) bool) []*database.FileTransfer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*database.FileTransfer
	for _, t := range s.transfers {
		if match(t) {
			out = append(out, cloneTransfer(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SentAt.After(out[j].SentAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) ListSentTransfers(_ context.Context, senderID string, limit int) ([]*database.FileTransfer, error) {
	return s.listTransfers(limit, func(t *database.FileTransfer) bool { return t.SenderID == senderID }), nil
}

func (s *Store) ListReceivedTransfers(_ context.Context, receiverID string, limit int) ([]*database.FileTransfer, error) {
	return s.listTransfers(limit, func(t *database.FileTransfer) bool { return t.ReceiverID == receiverID }), nil
}

func (s *Store) MarkTransfersDelivered(_ context.Context, receiverID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.transfers {
		if t.ReceiverID == receiverID && t.Status == database.StatusPending {
			t.Status = database.StatusDelivered
			t.DeliveredAt = timePtr(at)
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkTransferViewed(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok || t.Status == database.StatusViewed {
		return false, nil
	}
	t.Status = database.StatusViewed
	t.ViewedAt = timePtr(at)
	if t.DeliveredAt == nil {
		t.DeliveredAt = timePtr(at)
	}
	return true, nil
}

func (s *Store) ListTransfersSentBefore(_ context.Context, cutoff time.Time) ([]*database.FileTransfer, error) {
	return s.listTransfers(0, func(t *database.FileTransfer) bool { return t.SentAt.Before(cutoff) }), nil
}

func (s *Store) DeleteTransfer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.transfers, id)
	return nil
}

// Chat messages

func (s *Store) CreateMessage(_ context.Context, m *database.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[m.ID]; ok {
		return database.ErrDuplicate
	}
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *Store) ListConversation(_ context.Context, a, b string, limit int) ([]*database.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*database.ChatMessage
	for _, m := range s.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) MarkConversationRead(_ context.Context, senderID, receiverID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.messages {
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.IsRead {
			m.IsRead = true
			m.ReadAt = timePtr(at)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUnread(_ context.Context, receiverID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.messages {
		if m.ReceiverID == receiverID && !m.IsRead {
			n++
		}
	}
	return n, nil
}

// Password reset tokens

func (s *Store) CreateResetToken(_ context.Context, t *database.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.resetTokens {
		if existing.Token == t.Token {
			return database.ErrDuplicate
		}
	}
	cp := *t
	s.resetTokens[t.ID] = &cp
	return nil
}

func (s *Store) DeleteResetTokens(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.resetTokens {
		if t.AccountID == accountID {
			delete(s.resetTokens, id)
		}
	}
	return nil
}

func (s *Store) GetValidResetToken(_ context.Context, token string, now time.Time) (*database.PasswordResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.resetTokens {
		if t.Token == token && !t.Used && t.ExpiresAt.After(now) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *Store) MarkResetTokenUsed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.resetTokens[id]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true
	return true, nil
}

func (s *Store) PurgeResetTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.resetTokens {
		if t.Used || !t.ExpiresAt.After(now) {
			delete(s.resetTokens, id)
			n++
		}
	}
	return n, nil
}

func timePtr(t time.Time) *time.Time { return &t }

func cloneAccount(a *database.Account) *database.Account {
	cp := *a
	if a.GoogleID != nil {
		id := *a.GoogleID
		cp.GoogleID = &id
	}
	return &cp
}

func cloneTransfer(t *database.FileTransfer) *database.FileTransfer {
	cp := *t
	if t.DeliveredAt != nil {
		cp.DeliveredAt = timePtr(*t.DeliveredAt)
	}
	if t.ViewedAt != nil {
		cp.ViewedAt = timePtr(*t.ViewedAt)
	}
	return &cp
}

func cloneMessage(m *database.ChatMessage) *database.ChatMessage {
	cp := *m
	if m.ReadAt != nil {
		cp.ReadAt = timePtr(*m.ReadAt)
	}
	return &cp
}
