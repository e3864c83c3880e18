package handlers

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/terminal-bench/mariscope/internal/middleware"
	"github.com/terminal-bench/mariscope/internal/services/banking"
	"github.com/terminal-bench/mariscope/internal/services/compliance"
	"github.com/terminal-bench/mariscope/internal/services/notification"
	"github.com/terminal-bench/mariscope/internal/services/pooling"
	"go.uber.org/zap"
)

// Deps collects what the router serves.
type Deps struct {
	Compliance *compliance.Service
	Banking    *banking.Service
	Pooling    *pooling.Service
	Activity   *notification.Service
	Limiter    *middleware.RateLimiter
	Logger     *zap.Logger

	// DBStats and BusConnected add detail to /health when set.
	DBStats      func() sql.DBStats
	BusConnected func() bool

	// JWTSecret guards mutating routes when set.
	JWTSecret      string
	AllowedOrigins []string
}

// NewRouter builds the HTTP surface.
func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))
	if deps.Limiter != nil {
		router.Use(middleware.RateLimit(deps.Limiter))
	}

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if deps.DBStats != nil {
			stats := deps.DBStats()
			body["db"] = gin.H{
				"open":    stats.OpenConnections,
				"inUse":   stats.InUse,
				"idle":    stats.Idle,
				"maxOpen": stats.MaxOpenConnections,
			}
		}
		if deps.BusConnected != nil {
			body["bus"] = gin.H{"connected": deps.BusConnected()}
		}
		c.JSON(http.StatusOK, body)
	})

	// Mutating routes
	write := router.Group("/")
	if deps.JWTSecret != "" {
		write.Use(middleware.Auth(deps.JWTSecret))
	}

	complianceHandler := NewComplianceHandler(deps.Compliance, logger)
	router.GET("/routes", complianceHandler.ListRoutes)
	router.GET("/routes/comparison", complianceHandler.Comparison)
	write.POST("/routes/:id/baseline", complianceHandler.SetBaseline)
	router.GET("/compliance/cb", complianceHandler.ComputeCB)
	router.GET("/compliance/adjusted-cb", complianceHandler.AdjustedCB)

	bankingHandler := NewBankingHandler(deps.Banking, logger)
	router.GET("/banking/records", bankingHandler.Records)
	write.POST("/banking/bank", bankingHandler.Bank)
	write.POST("/banking/apply", bankingHandler.Apply)

	poolHandler := NewPoolHandler(deps.Pooling, logger)
	write.POST("/pools", poolHandler.Create)
	router.GET("/pools", poolHandler.List)
	router.GET("/pools/:id", poolHandler.Get)
	router.GET("/pools/:id/archive", poolHandler.Archive)

	if deps.Activity != nil {
		activityHandler := NewActivityHandler(deps.Activity, logger)
		router.GET("/activity", activityHandler.Recent)
		router.GET("/activity/stream", activityHandler.Stream)
	}

	return router
}
