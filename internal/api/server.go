// Package api exposes the clinical engine over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/app"
	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/middleware"
)

// Server represents the HTTP server
type Server struct {
	app      *app.App
	cfg      domain.ServerConfig
	router   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(a *app.App) *Server {
	cfg := a.Config

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger(a.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		app:    a,
		cfg:    cfg.Server,
		router: router,
		logger: a.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.setupRoutes()
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		var err error
		if s.cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.POST("/api/gemini", s.handleAssistant)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/triage/classify", s.handleClassify)
		v1.POST("/triage/encounters", s.handleSaveEncounter)
		v1.POST("/triage/clear", s.handleClearTriage)

		v1.POST("/risk", s.handleRisk)

		v1.GET("/records", s.handleListRecords)
		v1.GET("/records/stats", s.handleStats)
		v1.GET("/records/export.xlsx", s.handleExportRecords)
		v1.GET("/records/:id", s.handleGetRecord)
		v1.GET("/records/:id/referral", s.handleReferral)
		v1.GET("/records/:id/referral.pdf", s.handleReferralPDF)
		v1.POST("/records/:id/referral/share", s.handleShareReferral)

		v1.GET("/partogram", s.handlePartogram)
		v1.POST("/partogram/observations", s.handleAddObservation)
		v1.DELETE("/partogram", s.handleResetPartogram)

		v1.GET("/pph", s.handlePPHStatus)
		v1.GET("/pph/actions", s.handlePPHCatalogue)
		v1.POST("/pph/resume", s.handlePPHResume)
		v1.POST("/pph/discard", s.handlePPHDiscard)
		v1.POST("/pph/start", s.handlePPHStart)
		v1.POST("/pph/actions/:tag", s.handlePPHToggle)
		v1.POST("/pph/end", s.handlePPHEnd)
		v1.GET("/pph/stream", s.handlePPHStream)

		v1.GET("/guidelines/search", s.handleSearch)
		v1.GET("/guidelines/:id", s.handleViewGuideline)
		v1.GET("/drugs", s.handleDrugs)
		v1.GET("/protocols", s.handleProtocols)
		v1.GET("/protocols/:id", s.handleProtocol)

		v1.POST("/momconnect/register", s.handleMomConnect)

		v1.GET("/audit", s.handleAuditEntries)
		v1.GET("/audit/verify", s.handleAuditVerify)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
