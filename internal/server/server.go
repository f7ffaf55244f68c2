package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/handlers"
	"github.com/ternarybob/stockfeed/internal/snapshot"
)

// Server manages the HTTP server and routes
type Server struct {
	config *common.Config
	logger arbor.ILogger
	router *gin.Engine
	server *http.Server

	apiHandler        *handlers.APIHandler
	predictionHandler *handlers.PredictionHandler
}

// New creates a new HTTP server serving the snapshots under config.Snapshot
func New(config *common.Config, logger arbor.ILogger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:            config,
		logger:            logger,
		apiHandler:        handlers.NewAPIHandler(logger),
		predictionHandler: handlers.NewPredictionHandler(snapshot.NewLayout(&config.Snapshot), logger),
	}

	// Setup routes
	s.router = s.setupRoutes()

	// Create HTTP server
	s.server = &http.Server{
		Addr:         s.address(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) address() string {
	return fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
}

// Handler returns the routed handler, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.address()).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
