package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/api"
	"github.com/Harshitk-cp/credence/internal/buildconfig"
	"github.com/Harshitk-cp/credence/internal/config"
	"github.com/Harshitk-cp/credence/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	config.LoadEnv()

	configPath := os.Getenv("CREDENCE_CONFIG")
	if configPath == "" {
		configPath = "credence.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	// Rebuild the logger at the configured level once config is trusted.
	if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zc := zap.NewProductionConfig()
		zc.Level = lvl
		if rebuilt, err := zc.Build(); err == nil {
			logger = rebuilt
		}
	}

	logger.Info("starting credence",
		zap.String("version", buildconfig.Version()),
		zap.String("commit", buildconfig.Commit()),
		zap.String("config", configPath))

	registry := config.NewRegistry(cfg)
	app := api.NewApp(registry, logger)

	ctx := context.Background()

	// Restore persisted state. A missing file is a fresh start; anything
	// else is fatal rather than silently serving an empty graph.
	state, err := store.LoadState(cfg.StatePath, store.LoadOptions{})
	switch {
	case err == nil:
		if err := app.Trust.Replace(ctx, state.Trust); err != nil {
			logger.Fatal("failed to restore trust entries", zap.Error(err))
		}
		if err := app.Conversations.Replace(ctx, state.Conversations); err != nil {
			logger.Fatal("failed to restore conversations", zap.Error(err))
		}
		app.Snapshot.MarkSaved()
		logger.Info("state restored",
			zap.String("path", cfg.StatePath),
			zap.Int("trust_entries", len(state.Trust)),
			zap.Int("conversations", len(state.Conversations)))
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("no state file, starting fresh", zap.String("path", cfg.StatePath))
	default:
		logger.Fatal("failed to load state", zap.Error(err))
	}

	// Hot reload for the config file. The server keeps running on the old
	// snapshot if the watcher cannot be set up.
	watcher, err := config.NewWatcher(registry, configPath, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
		watcher = nil
	} else {
		watcher.Start()
	}

	// Start background services
	app.Snapshot.Start()
	app.Refresher.Start()

	addr := cfg.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Stop background services after the listener drains. The snapshot
	// worker flushes on stop, so writes from in-flight requests reach disk.
	if watcher != nil {
		watcher.Stop()
	}
	app.Refresher.Stop()
	app.Snapshot.Stop()

	logger.Info("server stopped")
}
