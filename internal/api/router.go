package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cardid/cardid/internal/api/handler"
	"github.com/cardid/cardid/internal/api/middleware"
	"github.com/cardid/cardid/internal/config"
)

// SetupRouter configures the Gin router for the identification service
// (spec.md §6): POST /scanner/identify, GET /scanner/seed/:setCode, and a
// health check.
func SetupRouter(
	pipeline handler.Identifier,
	ingestor handler.Seeder,
	cfg *config.Config,
) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler()
	scannerHandler := handler.NewScannerHandler(pipeline, ingestor)

	r.GET("/healthz", healthHandler.Health)

	scanner := r.Group("/scanner")
	{
		scanner.POST("/identify", scannerHandler.Identify)
		scanner.GET("/seed/:setCode", scannerHandler.Seed)
	}

	return r
}
