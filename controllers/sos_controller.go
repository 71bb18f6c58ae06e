package controllers

import (
	"context"
	"errors"
	"io"

	"safewalk/models"
	"safewalk/services"
	"safewalk/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AlertEngine is the part of the alert engine the SOS endpoints drive.
type AlertEngine interface {
	Trigger(ctx context.Context, userID string, opts services.TriggerOptions) (models.AlertSession, error)
	Cancel(ctx context.Context, userID string) (models.AlertSession, error)
	Status(userID string) (models.SOSStatusResponse, error)
	History(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error)
	Presets() models.SOSPresetsResponse
	StartEffect(ctx context.Context, userID string, effect models.EffectName) (models.EffectOutcome, error)
	StopEffect(ctx context.Context, userID string, effect models.EffectName) (models.EffectOutcome, error)
}

type SOSController struct {
	engine     AlertEngine
	validation *utils.ValidationService
}

func NewSOSController(engine AlertEngine) *SOSController {
	return &SOSController{
		engine:     engine,
		validation: utils.NewValidationService(),
	}
}

// =================== TRIGGER ===================

// TriggerSOS starts a countdown, or sends immediately when the countdown is
// zero. Pressing again during the countdown cancels it. An empty body is a
// plain press with every default.
func (sc *SOSController) TriggerSOS(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	var req models.TriggerSOSRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	if validationErrors := sc.validation.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	session, err := sc.engine.Trigger(c.Request.Context(), userID, services.TriggerOptionsFromRequest(req))
	if err != nil {
		utils.ServiceErrorResponse(c, err, "Failed to trigger alert")
		return
	}

	logrus.WithFields(logrus.Fields{
		"userId":    userID,
		"sessionId": session.ID,
		"state":     session.State,
	}).Info("SOS trigger handled")

	switch session.State {
	case models.SessionStateCountdown:
		utils.CreatedResponse(c, "Countdown started", session)
	case models.SessionStateCancelled:
		utils.SuccessResponse(c, "Countdown cancelled", session)
	default:
		utils.SuccessResponse(c, "Alert sent", session)
	}
}

// CancelSOS aborts the running countdown.
func (sc *SOSController) CancelSOS(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	session, err := sc.engine.Cancel(c.Request.Context(), userID)
	if err != nil {
		utils.ServiceErrorResponse(c, err, "Failed to cancel alert")
		return
	}

	utils.SuccessResponse(c, "Countdown cancelled", session)
}

// GetStatus returns the current session, if any, and the latest fix.
func (sc *SOSController) GetStatus(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	status, err := sc.engine.Status(userID)
	if err != nil {
		utils.ServiceErrorResponse(c, err, "Failed to get alert status")
		return
	}

	utils.SuccessResponse(c, "Alert status retrieved successfully", status)
}

// =================== HISTORY & PRESETS ===================

// GetHistory lists the user's most recent alerts, newest first.
func (sc *SOSController) GetHistory(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	var query models.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.BadRequestResponse(c, "Invalid query parameters")
		return
	}
	if validationErrors := sc.validation.ValidateStruct(query); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	limit := services.ClampHistoryLimit(query.Limit)
	records, err := sc.engine.History(c.Request.Context(), userID, limit)
	if err != nil {
		utils.ServiceErrorResponse(c, err, "Failed to load alert history")
		return
	}
	if records == nil {
		records = []models.HistoryRecord{}
	}

	utils.SuccessResponseWithMeta(c, "Alert history retrieved successfully", records, utils.CreateListMeta(limit, len(records)))
}

func (sc *SOSController) GetPresets(c *gin.Context) {
	utils.SuccessResponse(c, "Message presets retrieved successfully", sc.engine.Presets())
}

// =================== SIDE EFFECTS ===================

// StartEffect switches one device effect on outside of an alert.
func (sc *SOSController) StartEffect(c *gin.Context) {
	sc.toggleEffect(c, true)
}

// StopEffect switches one device effect off.
func (sc *SOSController) StopEffect(c *gin.Context) {
	sc.toggleEffect(c, false)
}

func (sc *SOSController) toggleEffect(c *gin.Context, start bool) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	var path models.EffectPath
	if err := c.ShouldBindUri(&path); err != nil {
		utils.BadRequestResponse(c, "Invalid effect")
		return
	}
	if validationErrors := sc.validation.ValidateStruct(path); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	effect := models.EffectName(path.Effect)
	var (
		outcome models.EffectOutcome
		err     error
	)
	if start {
		outcome, err = sc.engine.StartEffect(c.Request.Context(), userID, effect)
	} else {
		outcome, err = sc.engine.StopEffect(c.Request.Context(), userID, effect)
	}
	if err != nil {
		utils.ServiceErrorResponse(c, err, "Failed to change effect")
		return
	}

	// Unsupported and denied outcomes are reported in the body, not as errors.
	utils.SuccessResponse(c, "Effect "+string(outcome.Status), outcome)
}
