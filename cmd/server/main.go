package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rollbar/rollbar-go"

	"feedbackhub/internal/server/api"
	"feedbackhub/internal/server/auth"
	"feedbackhub/internal/server/config"
	"feedbackhub/internal/server/database"
	"feedbackhub/internal/server/database/memdb"
	"feedbackhub/internal/server/mail"
	"feedbackhub/internal/server/realtime"
	"feedbackhub/internal/server/service"
	"feedbackhub/internal/server/storage"
)

func main() {
	// Load config
	cfg := config.Load()

	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"env", cfg.Env,
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"transfer_retention", cfg.TransferRetention,
	)

	ctx := context.Background()

	// Persistence
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		slog.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	// Blob storage
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "backend", cfg.StorageBackend)

	// Services
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenExpiry)
	mailer := mail.New(cfg.SendgridAPIKey, cfg.MailFrom)
	authSvc := service.NewAuthService(repo, repo, tokens, auth.NewGoogleVerifier(cfg.GoogleClientID), mailer, cfg)

	hub := realtime.NewHub(func(token string) (string, error) {
		claims, err := authSvc.Authenticate(token)
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}, cfg.CORSOrigins)

	files := service.NewFileShareService(repo, repo, store, hub, cfg)
	chat := service.NewChatService(repo, repo, hub)

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(repo, store, cfg.CleanupInterval, cfg.TransferRetention)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	report := api.NewRollbarReporter(cfg.RollbarToken, cfg.Env)
	handler := api.NewHandler(authSvc, files, chat, repo)
	e := api.SetupRouter(handler, hub, limiter, cfg, report)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	hub.Close()
	limiter.Close()

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	if report != nil {
		rollbar.Wait()
	}

	slog.Info("server exited cleanly")
}

// openRepository connects to PostgreSQL and applies migrations, or returns
// the in-process store for a memory:// URL.
func openRepository(ctx context.Context, cfg *config.Config) (service.Repository, func(), error) {
	if cfg.UsesMemoryStore() {
		slog.Warn("using in-memory store, all data is lost on restart")
		return memdb.New(), func() {}, nil
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	slog.Info("database migrations complete")

	return database.NewRepository(db), db.Close, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var store storage.Store
	switch cfg.StorageBackend {
	case config.StorageS3:
		s3, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	case config.StorageFilesystem, "":
		store = storage.NewFileSystemStore(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	if err := store.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare storage: %w", err)
	}
	return store, nil
}
