// routes/routes.go
package routes

import (
	"time"

	"safewalk/controllers"
	"safewalk/middleware"
	"safewalk/utils"
	"safewalk/websocket"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Engine is what the HTTP surface needs from the alert engine.
type Engine interface {
	controllers.AlertEngine
	controllers.LocationEngine
}

// Dependencies are built in main and shared by every route group.
type Dependencies struct {
	Environment       string
	Redis             *redis.Client
	JWT               *utils.JWTService
	Hub               *websocket.Hub
	Engine            Engine
	Health            *controllers.HealthController
	TriggerRateLimit  int
	TriggerRateWindow time.Duration
}

// SetupRoutes initializes all application routes
func SetupRoutes(deps Dependencies) *gin.Engine {
	router := gin.New()

	// Initialize controllers
	controllers := initializeControllers(deps)

	// Global middleware
	setupGlobalMiddleware(router, deps.Environment)

	// Setup route groups
	setupPublicRoutes(router, controllers)
	setupAuthenticatedRoutes(router, controllers, deps)
	setupWebSocketRoutes(router, controllers, deps)

	return router
}

// Controllers initialization
type Controllers struct {
	SOS       *controllers.SOSController
	Location  *controllers.LocationController
	WebSocket *controllers.WebSocketController
	Health    *controllers.HealthController
}

func initializeControllers(deps Dependencies) *Controllers {
	return &Controllers{
		SOS:       controllers.NewSOSController(deps.Engine),
		Location:  controllers.NewLocationController(deps.Engine),
		WebSocket: controllers.NewWebSocketController(deps.Hub, deps.JWT),
		Health:    deps.Health,
	}
}

// Global middleware setup
func setupGlobalMiddleware(router *gin.Engine, environment string) {
	router.Use(middleware.DefaultLoggerMiddleware())
	router.Use(middleware.NewErrorHandler(environment, logrus.StandardLogger()).Handle())
	router.Use(middleware.CORSMiddleware(environment))
}

// Public routes (no authentication required)
func setupPublicRoutes(router *gin.Engine, controllers *Controllers) {
	if controllers.Health == nil {
		return
	}
	router.GET("/health", controllers.Health.HealthCheck)
	router.GET("/health/detailed", controllers.Health.DetailedHealthCheck)
}

// Authenticated routes (requires valid JWT token)
func setupAuthenticatedRoutes(router *gin.Engine, controllers *Controllers, deps Dependencies) {
	authMiddleware := middleware.NewAuthMiddleware(deps.JWT)

	api := router.Group("/api/v1")
	api.Use(authMiddleware.RequireAuth())

	SetupSOSRoutes(api, controllers.SOS, middleware.TriggerRateLimit(deps.Redis, deps.TriggerRateLimit, deps.TriggerRateWindow))
	SetupLocationRoutes(api, controllers.Location)
}

// WebSocket routes
func setupWebSocketRoutes(router *gin.Engine, controllers *Controllers, deps Dependencies) {
	SetupWebSocketRoutes(router, controllers.WebSocket, deps)
}
