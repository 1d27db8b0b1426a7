package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/reindexer/internal/config"
	"github.com/syntrixbase/reindexer/internal/logging"
	"github.com/syntrixbase/reindexer/internal/services"
)

func main() {
	configDir := flag.String("config", "config", "Directory holding config.yml and config.local.yml")
	initTimeout := flag.Duration("init-timeout", 30*time.Second, "Timeout for connecting to backends")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() {
		if err := logging.Shutdown(); err != nil {
			log.Printf("Failed to close log files: %v", err)
		}
	}()

	slog.Info("Starting reindexer",
		"mode", cfg.Deployment.Mode,
		"cluster", cfg.Reindexing.ClusterName,
		"enabled", cfg.Reindexing.Enabled)

	// 2. Initialize Service Manager
	mgr := services.NewManager(cfg, slog.Default())

	initCtx, initCancel := context.WithTimeout(context.Background(), *initTimeout)
	err = mgr.Init(initCtx)
	initCancel()
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	// 3. Start Services
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		slog.Error("Failed to start services", "error", err)
		_ = mgr.Shutdown(context.Background())
		os.Exit(1)
	}

	// 4. Wait for Shutdown
	<-ctx.Done()
	slog.Info("Shutting down services...")

	// The runner has its own grace period; this only bounds the rest.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Reindexing.GracePeriod+10*time.Second)
	defer shutdownCancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown finished with errors", "error", err)
		return
	}
	slog.Info("All services stopped.")
}
