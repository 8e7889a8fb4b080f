package main

import (
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/repetition-app/repetition/internal/archive"
	"github.com/repetition-app/repetition/internal/attach"
	"github.com/repetition-app/repetition/internal/config"
	"github.com/repetition-app/repetition/internal/storage"
	"github.com/repetition-app/repetition/internal/web"
)

func main() {
	// 1. Parse command-line flags and assemble the configuration.
	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Failed to parse flags: %v", err)
	}
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg.LogLevel)

	// 2. Prepare the collection directory and open the database.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	db, err := storage.Open(filepath.Join(cfg.DataDir, archive.DatabaseName))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	slog.Info("database opened", "data_dir", cfg.DataDir)

	attachments, err := attach.NewStore(filepath.Join(cfg.DataDir, "files"))
	if err != nil {
		log.Fatalf("Failed to open attachment store: %v", err)
	}

	// 3. Serve the web interface.
	server, err := web.NewServer(db, attachments, cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	slog.Info("listening", "addr", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, server); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
