package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/a-essam23/setlist-sync/internal/directory"
	"github.com/a-essam23/setlist-sync/internal/persistence"
	"github.com/a-essam23/setlist-sync/internal/server"
	"github.com/a-essam23/setlist-sync/pkg/config"
	"github.com/a-essam23/setlist-sync/pkg/logging"
	"github.com/joho/godotenv"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to read .env file", slog.Any("error", err))
	}

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)
	if cfg.Auth.Lenient() {
		logger.Warn("Lenient auth mode: client-declared user ids are trusted. Do not use in production.")
	}

	dir, err := directory.Open(cfg.Directory)
	if err != nil {
		logger.Error("Failed to open directory", slog.String("driver", cfg.Directory.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer dir.Close()

	snapshots, err := persistence.Open(cfg.Persistence)
	if err != nil {
		logger.Error("Failed to open snapshot store", slog.String("driver", cfg.Persistence.Driver), slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the process must not outlive a hung shutdown
	go func() {
		<-ctx.Done()
		time.Sleep(cfg.Server.ShutdownTimeout + time.Second)
		logger.Error("Shutdown deadline exceeded, forcing exit")
		os.Exit(1)
	}()

	app := server.NewApp(logger, ctx, cfg, dir, snapshots)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
