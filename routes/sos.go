// routes/sos.go
package routes

import (
	"safewalk/controllers"

	"github.com/gin-gonic/gin"
)

// SetupSOSRoutes configures the alert trigger, history and effect routes.
func SetupSOSRoutes(router *gin.RouterGroup, sosController *controllers.SOSController, triggerLimit gin.HandlerFunc) {
	sos := router.Group("/sos")
	{
		sos.POST("/trigger", triggerLimit, sosController.TriggerSOS)
		sos.POST("/cancel", sosController.CancelSOS)
		sos.GET("/status", sosController.GetStatus)
		sos.GET("/history", sosController.GetHistory)
		sos.GET("/presets", sosController.GetPresets)
	}

	// Device effects outside of an alert
	effects := sos.Group("/effects")
	{
		effects.POST("/:effect/start", sosController.StartEffect)
		effects.POST("/:effect/stop", sosController.StopEffect)
	}
}
