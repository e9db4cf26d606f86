package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"feedbackhub/internal/server/config"
	"feedbackhub/internal/server/database"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	cli := &commandLine{
		accounts: database.NewRepository(db),
		out:      os.Stdout,
	}
	err = cli.run(ctx, os.Args)
	db.Close()
	if err != nil {
		if !errors.Is(err, errHelp) {
			slog.Error("command failed", "error", err)
		}
		os.Exit(1)
	}
}
