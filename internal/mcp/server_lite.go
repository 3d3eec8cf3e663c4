// Package mcp exposes the clinical engine as Model Context Protocol tools.
// The lite server needs no external services: state lives in SQLite (or
// memory) under the data directory.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/app"
	litecfg "github.com/impcg-clinical-engine/internal/config"
)

const (
	ServerName    = "impcg-clinical-engine"
	ServerVersion = "v0.1.0"
)

// LiteServer is a lightweight MCP server over one clinical engine.
type LiteServer struct {
	config    *litecfg.LiteConfig
	app       *app.App
	ownsApp   bool
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// WithApp serves an already wired engine instead of building one.
func WithApp(a *app.App) LiteServerOption {
	return func(s *LiteServer) error {
		s.app = a
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(ctx context.Context, cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: app.NewLogger(cfg.ToConfig().Logging),
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.app == nil {
		if err := cfg.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		a, err := app.New(ctx, cfg.ToConfig(), server.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize engine: %w", err)
		}
		server.app = a
		server.ownsApp = true
	}

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	n := registerTools(server.mcpServer, server.app)
	server.logger.WithField("tool_count", n).Info("Lite server initialized successfully")
	return server, nil
}

// Server returns the underlying MCP server.
func (s *LiteServer) Server() *mcp.Server {
	return s.mcpServer
}

// App returns the engine behind the tools.
func (s *LiteServer) App() *app.App {
	return s.app
}

// Start serves over the configured transport until ctx is done.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.WithField("transport", s.config.Transport).Info("Starting IMPCG MCP Server (Lite)...")

	switch s.config.Transport {
	case "", "stdio":
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case "http":
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", s.config.Transport)
	}
}

func (s *LiteServer) serveHTTP(ctx context.Context) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("MCP HTTP transport failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases the engine when the server built it.
func (s *LiteServer) Close() error {
	if s.ownsApp && s.app != nil {
		if err := s.app.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close clinical engine")
			return err
		}
	}
	return nil
}
