package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackhub/internal/server/database"
	"feedbackhub/internal/server/database/memdb"
)

func seedTransfer(t *testing.T, repo *memdb.Store, store Store, id string, sentAt time.Time) {
	t.Helper()
	ctx := context.Background()
	name := id + ".xlsx"
	_, err := store.Save(ctx, name, strings.NewReader("data"))
	require.NoError(t, err)
	require.NoError(t, repo.CreateTransfer(ctx, &database.FileTransfer{
		ID: id, StoredName: name, OriginalName: name,
		SenderID: "s", ReceiverID: "r", Status: database.StatusPending, SentAt: sentAt,
	}))
}

func TestCleanupService_RemovesExpiredTransfers(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	repo := memdb.New()
	store := NewFileSystemStore(dir)

	seedTransfer(t, repo, store, "old", now.Add(-48*time.Hour))
	seedTransfer(t, repo, store, "fresh", now.Add(-time.Hour))

	cs := NewCleanupService(repo, store, time.Hour, 24*time.Hour)
	cs.now = func() time.Time { return now }
	cs.runCleanup(ctx)

	_, err := repo.GetTransfer(ctx, "old")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = os.Stat(filepath.Join(dir, "old.xlsx"))
	assert.True(t, os.IsNotExist(err))

	_, err = repo.GetTransfer(ctx, "fresh")
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "fresh.xlsx"))
	assert.NoError(t, err)
}

func TestCleanupService_ZeroRetentionKeepsTransfers(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo := memdb.New()
	store := NewFileSystemStore(t.TempDir())
	seedTransfer(t, repo, store, "ancient", now.AddDate(-2, 0, 0))

	require.NoError(t, repo.CreateResetToken(ctx, &database.PasswordResetToken{
		ID: "1", AccountID: "u", Token: "expired", ExpiresAt: now.Add(-time.Minute),
	}))

	cs := NewCleanupService(repo, store, time.Hour, 0)
	cs.runCleanup(ctx)

	_, err := repo.GetTransfer(ctx, "ancient")
	assert.NoError(t, err)

	n, err := repo.PurgeResetTokens(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "expired token should already be purged")
}

func TestCleanupService_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cs := NewCleanupService(memdb.New(), NewFileSystemStore(t.TempDir()), time.Hour, 0)
	cs.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		cs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup service did not stop")
	}
}
