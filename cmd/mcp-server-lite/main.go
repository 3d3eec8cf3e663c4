// Package main provides the standalone MCP entry point for the IMPCG clinical
// engine. It requires no external services: state lives in SQLite under the
// data directory.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/impcg-clinical-engine/internal/config"
	"github.com/impcg-clinical-engine/internal/mcp"
)

func main() {
	// Load lightweight configuration
	cfg := config.LoadLiteConfig()

	log.Printf("Starting IMPCG MCP Server (Lite) with transport: %s", cfg.Transport)
	log.Printf("Data directory: %s", cfg.DataDir)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := mcp.NewLiteServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start MCP server
	if err := server.Start(ctx); err != nil {
		log.Printf("MCP server failed: %v", err)
		return
	}

	log.Println("IMPCG MCP Server (Lite) stopped")
}
