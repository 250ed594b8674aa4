package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"comptes/internal/commands"
)

func main() {
	// Load .env for local development; absent in production/docker.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
