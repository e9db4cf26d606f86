package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"feedbackhub/internal/server/auth"
	"feedbackhub/internal/server/config"
	"feedbackhub/internal/server/database"
	"feedbackhub/internal/server/database/memdb"
	"feedbackhub/internal/server/mail"
	"feedbackhub/internal/server/storage"
)

type emitted struct {
	Room    string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []emitted
}

func (n *recordingNotifier) Emit(room, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, emitted{Room: room, Event: event, Payload: payload})
}

func (n *recordingNotifier) Events() []emitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]emitted(nil), n.events...)
}

type fakeIdentity struct {
	id  *auth.Identity
	err error
}

func (f fakeIdentity) Verify(context.Context, string) (*auth.Identity, error) {
	return f.id, f.err
}

type fixture struct {
	repo     *memdb.Store
	store    *storage.FileSystemStore
	notifier *recordingNotifier
	mailer   *mail.ConsoleMailer
	cfg      *config.Config
	files    *FileShareService
	chat     *ChatService
	auth     *AuthService
}

func testConfig() *config.Config {
	return &config.Config{
		MaxFileSize:   10 << 20,
		JWTSecret:     "test-secret",
		TokenExpiry:   30 * time.Minute,
		FrontendURL:   "http://app.test",
		ResetTokenTTL: time.Hour,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     memdb.New(),
		store:    storage.NewFileSystemStore(t.TempDir()),
		notifier: &recordingNotifier{},
		mailer:   mail.NewConsoleMailer(),
		cfg:      testConfig(),
	}
	tokens := auth.NewTokenManager(f.cfg.JWTSecret, f.cfg.TokenExpiry)
	f.files = NewFileShareService(f.repo, f.repo, f.store, f.notifier, f.cfg)
	f.chat = NewChatService(f.repo, f.repo, f.notifier)
	f.auth = NewAuthService(f.repo, f.repo, tokens, fakeIdentity{}, f.mailer, f.cfg)
	return f
}

func (f *fixture) account(t *testing.T, username string, role database.Role) *database.Account {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	a := &database.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, f.repo.CreateAccount(context.Background(), a))
	return a
}

// workbook builds a minimal OOXML package padded with extra random bytes.
func workbook(t *testing.T, padding int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	entries := map[string][]byte{
		"[Content_Types].xml": []byte(`<?xml version="1.0"?><Types/>`),
		"xl/workbook.xml":     []byte(`<workbook/>`),
	}
	if padding > 0 {
		pad := make([]byte, padding)
		_, err := rand.Read(pad)
		require.NoError(t, err)
		entries["xl/media/blob.bin"] = pad
	}

	for name, content := range entries {
		fw, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func createTestZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func (f *fixture) share(t *testing.T, sender, receiver *database.Account, data []byte) *ShareResult {
	t.Helper()
	res, err := f.files.ShareFile(context.Background(), ShareInput{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		FileName:   "report.xlsx",
		MimeType:   MimeXLSX,
		Size:       int64(len(data)),
		Message:    "Q1 data",
		Content:    bytes.NewReader(data),
	})
	require.NoError(t, err)
	return res
}
