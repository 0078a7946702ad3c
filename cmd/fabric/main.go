package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fabric/infrastructure/config"
	"fabric/infrastructure/di"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize dependency container
	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	// Register the graph pair and default rule, then start the fabric
	if err := container.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap knowledge fabric: %v", err)
	}
	if _, err := container.Fabric.Start(ctx); err != nil {
		log.Fatalf("Failed to start knowledge fabric: %v", err)
	}
	container.Logger.Info("knowledge fabric running",
		zap.String("agentID", cfg.AgentID),
		zap.String("backend", cfg.Backend),
		zap.String("environment", cfg.Environment),
	)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	container.Logger.Info("shutting down knowledge fabric...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := container.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("shutdown finished with errors", zap.Error(err))
		os.Exit(1)
	}
	container.Logger.Info("knowledge fabric stopped")
}
