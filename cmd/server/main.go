package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/impcg-clinical-engine/internal/api"
	"github.com/impcg-clinical-engine/internal/app"
	"github.com/impcg-clinical-engine/internal/config"
	"github.com/impcg-clinical-engine/internal/metrics"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := app.NewLogger(cfg.Logging)
	logger.Infof("Starting IMPCG clinical engine on %s:%d", cfg.Server.Host, cfg.Server.Port)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		logger.WithError(err).Fatal("Failed to create data directory")
	}

	metrics.Init(prometheus.DefaultRegisterer)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize clinical engine")
	}
	defer engine.Close()

	if engine.Resume.Prompt != nil {
		logger.WithField("minutes_ago", engine.Resume.Prompt.MinutesAgo).
			Warn("A previous PPH session is awaiting a resume or discard decision")
	}

	server := api.NewServer(engine)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
