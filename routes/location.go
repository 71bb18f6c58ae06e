// routes/location.go
package routes

import (
	"safewalk/controllers"

	"github.com/gin-gonic/gin"
)

// SetupLocationRoutes configures the HTTP location source.
func SetupLocationRoutes(router *gin.RouterGroup, locationController *controllers.LocationController) {
	location := router.Group("/location")
	{
		location.POST("/samples", locationController.UpdateLocation)
		location.GET("/latest", locationController.GetCurrentLocation)
		location.GET("/trail", locationController.GetLocationTrail)
	}
}
