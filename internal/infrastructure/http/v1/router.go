// Package v1 provides HTTP API version 1.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
	"pharmapos/internal/infrastructure/http/v1/dto"
	"pharmapos/internal/infrastructure/http/v1/handlers"
	"pharmapos/internal/infrastructure/http/v1/middleware"
	"pharmapos/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Logger *logger.Logger

	// JWTValidator enables bearer auth on /api/v1 when set.
	JWTValidator middleware.JWTValidator

	Sales     *sales.Service
	Inventory *inventory.Service

	// Health probes, keyed by component name.
	HealthChecks map[string]handlers.Pinger
	HealthInfo   func() map[string]any
	Version      string

	// Metrics, when set, records HTTP metrics and serves /metrics.
	Metrics interface {
		Middleware() gin.HandlerFunc
		Handler() http.Handler
	}
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	if err := dto.RegisterGinValidators(); err != nil {
		return nil, err
	}

	router := gin.New()

	// Order matters: trace before logger so log lines carry ids; error
	// handler innermost so it renders before the logger records status.
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware())
	}
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Version, cfg.HealthChecks, cfg.HealthInfo)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group("/api/v1")
	if cfg.JWTValidator != nil {
		api.Use(middleware.Auth(cfg.JWTValidator))
	}

	base := handlers.NewBaseHandler()
	RegisterSalesRoutes(api.Group("/sales"), handlers.NewSalesHandler(base, cfg.Sales))
	RegisterInventoryRoutes(api.Group("/products"), handlers.NewInventoryHandler(base, cfg.Inventory))

	return router, nil
}
