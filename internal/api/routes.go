package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/sentio-go/internal/api/handlers"
	"github.com/irfndi/sentio-go/internal/middleware"
	"github.com/irfndi/sentio-go/internal/services"
	"github.com/irfndi/sentio-go/internal/strategies"
)

// Dependencies are the components the HTTP layer serves. Database and
// Redis are optional; leave them nil when disabled.
type Dependencies struct {
	Engine   *services.TradingEngine
	Registry *strategies.Registry
	Auth     *middleware.AuthMiddleware
	Database handlers.HealthChecker
	Redis    handlers.HealthChecker
	Version  string
	Logger   *logrus.Logger
}

// NewRouter creates a gin engine with recovery, request logging and
// tracing installed.
func NewRouter(serviceName string, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestLogger(logger))
	return router
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	health := handlers.NewHealthHandler(deps.Database, deps.Redis, deps.Version, string(deps.Engine.Mode()))
	trading := handlers.NewTradingHandler(deps.Engine, deps.Logger)
	risk := handlers.NewRiskHandler(deps.Engine, deps.Logger)
	strategyHandler := handlers.NewStrategyHandler(deps.Registry, deps.Engine)

	router.GET("/health", health.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/analyze/:symbol", trading.Analyze)
		v1.GET("/signals/:symbol/latest", trading.LatestSignal)
		v1.GET("/strategies", strategyHandler.List)

		v1.GET("/positions", trading.Positions)
		v1.GET("/orders", trading.Orders)
		v1.GET("/orders/pending", trading.PendingOrders)
		v1.GET("/portfolio", trading.Portfolio)

		riskGroup := v1.Group("/risk")
		{
			riskGroup.POST("/assess", risk.Assess)
			riskGroup.GET("/metrics", risk.Metrics)
		}

		// Mutating routes
		protected := v1.Group("")
		protected.Use(deps.Auth.RequireAuth())
		{
			protected.POST("/trade/execute", trading.Execute)
			protected.POST("/positions/:symbol/close", trading.ClosePosition)
			protected.POST("/orders/:symbol/fill", trading.FillOrder)
			protected.POST("/orders/:symbol/cancel", trading.CancelOrder)
			protected.POST("/risk/reset-daily", middleware.RequireRole(middleware.RoleAdmin), risk.ResetDaily)
		}
	}
}
