package server

import (
	"github.com/gin-gonic/gin"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *gin.Engine {
	r := gin.New()

	// Applied in order: request ID first so every later log line carries it
	r.Use(
		s.requestIDMiddleware(),
		s.loggingMiddleware(),
		s.recoveryMiddleware(),
		s.corsMiddleware(),
		s.rateLimitMiddleware(),
	)

	// Service routes
	api := r.Group("/api")
	{
		api.GET("/health", s.apiHandler.HealthHandler)
		api.GET("/version", s.apiHandler.VersionHandler)
	}

	// Prediction routes
	r.GET("/test", s.predictionHandler.TestHandler)
	r.GET("/stock-all-models", s.predictionHandler.StockAllModelsHandler)
	r.GET("/latest-date-all-ticker-data", s.predictionHandler.LatestDateHandler)
	r.GET("/available-filters", s.predictionHandler.AvailableFiltersHandler)

	r.NoRoute(s.apiHandler.NotFoundHandler)

	return r
}
