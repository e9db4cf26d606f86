package storage

import (
	"context"
	"log/slog"
	"time"

	"feedbackhub/internal/server/database"
)

// RetentionRepository is the subset of persistence the cleanup service needs.
type RetentionRepository interface {
	PurgeResetTokens(ctx context.Context, now time.Time) (int64, error)
	ListTransfersSentBefore(ctx context.Context, cutoff time.Time) ([]*database.FileTransfer, error)
	DeleteTransfer(ctx context.Context, id string) error
}

// CleanupService periodically purges spent password reset tokens and, when a
// retention window is configured, removes old transfers from both the
// database and blob storage.
type CleanupService struct {
	repo      RetentionRepository
	store     Store
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	done      chan struct{}
}

// NewCleanupService creates a new cleanup service. A zero retention keeps
// transfers forever.
func NewCleanupService(repo RetentionRepository, store Store, interval, retention time.Duration) *CleanupService {
	return &CleanupService{
		repo:      repo,
		store:     store,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval, "retention", cs.retention)
	if cs.retention <= 0 {
		slog.Warn("transfer retention disabled, shared files are kept indefinitely")
	}

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	now := cs.now()

	purged, err := cs.repo.PurgeResetTokens(ctx, now)
	if err != nil {
		slog.Error("failed to purge reset tokens", "error", err)
	} else if purged > 0 {
		slog.Info("purged reset tokens", "count", purged)
	}

	if cs.retention <= 0 {
		return
	}

	expired, err := cs.repo.ListTransfersSentBefore(ctx, now.Add(-cs.retention))
	if err != nil {
		slog.Error("failed to list expired transfers", "error", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	var cleaned, failed int
	for _, t := range expired {
		if err := cs.store.Delete(ctx, t.StoredName); err != nil {
			slog.Error("failed to delete blob",
				"transfer_id", t.ID,
				"stored_name", t.StoredName,
				"error", err,
			)
			failed++
			continue
		}

		if err := cs.repo.DeleteTransfer(ctx, t.ID); err != nil {
			slog.Error("failed to delete transfer record",
				"transfer_id", t.ID,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		slog.Info("removed expired transfer",
			"transfer_id", t.ID,
			"file_name", t.OriginalName,
			"sent_at", t.SentAt,
		)
	}

	slog.Info("cleanup cycle complete",
		"cleaned", cleaned,
		"failed", failed,
		"total_expired", len(expired),
	)
}
