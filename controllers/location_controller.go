package controllers

import (
	"time"

	"safewalk/models"
	"safewalk/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocationEngine accepts fixes pushed over HTTP and serves the feed state.
type LocationEngine interface {
	PushLocation(userID string, sample models.LocationSample) error
	PushLocationError(userID string, err error) error
	LocationStatus(userID string) (models.LocationStatus, error)
	LocationTrail(userID string) ([]models.LocationSample, error)
}

type LocationController struct {
	engine     LocationEngine
	validation *utils.ValidationService
	now        func() time.Time
}

func NewLocationController(engine LocationEngine) *LocationController {
	return &LocationController{
		engine:     engine,
		validation: utils.NewValidationService(),
		now:        time.Now,
	}
}

// ==================== TRACKING ENDPOINTS ====================

// UpdateLocation publishes one fix, or a source error when the body carries
// an error code instead of coordinates.
func (lc *LocationController) UpdateLocation(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	var req models.LocationSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid location data")
		return
	}

	if validationErrors := lc.validation.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	if req.Error != "" {
		if err := lc.engine.PushLocationError(userID, utils.LocationErrorFromCode(req.Error)); err != nil {
			utils.ServiceErrorResponse(c, err, "Failed to record location error")
			return
		}
		logrus.WithFields(logrus.Fields{
			"userId": userID,
			"code":   req.Error,
		}).Info("Location source error reported")
		lc.respondStatus(c, userID, "Location error recorded")
		return
	}

	if err := lc.engine.PushLocation(userID, req.ToSample(lc.now())); err != nil {
		utils.ServiceErrorResponse(c, err, "Failed to update location")
		return
	}

	lc.respondStatus(c, userID, "Location updated successfully")
}

// GetCurrentLocation returns the latest fix and its accuracy tier.
func (lc *LocationController) GetCurrentLocation(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	lc.respondStatus(c, userID, "Location status retrieved successfully")
}

// GetLocationTrail returns the bounded in-memory trail, oldest first.
func (lc *LocationController) GetLocationTrail(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	trail, err := lc.engine.LocationTrail(userID)
	if err != nil {
		utils.ServiceErrorResponse(c, err, "Failed to get location trail")
		return
	}
	if trail == nil {
		trail = []models.LocationSample{}
	}

	utils.SuccessResponseWithMeta(c, "Location trail retrieved successfully", trail, utils.CreateListMeta(0, len(trail)))
}

func (lc *LocationController) respondStatus(c *gin.Context, userID, message string) {
	status, err := lc.engine.LocationStatus(userID)
	if err != nil {
		utils.ServiceErrorResponse(c, err, "Failed to get location status")
		return
	}
	utils.SuccessResponse(c, message, status)
}
