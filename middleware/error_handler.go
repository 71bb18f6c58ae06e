package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"safewalk/models"
	"safewalk/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	environment string
	logger      *logrus.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(environment string, logger *logrus.Logger) *ErrorHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ErrorHandler{
		environment: environment,
		logger:      logger,
	}
}

// Handle recovers panics and renders errors attached with c.Error when the
// handler did not write a response itself.
func (eh *ErrorHandler) Handle() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				eh.handlePanic(c, err)
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			eh.handleGinErrors(c)
		}
	})
}

func (eh *ErrorHandler) handlePanic(c *gin.Context, err interface{}) {
	stack := string(debug.Stack())
	eh.logger.WithFields(logrus.Fields{
		"panic":      err,
		"stack":      stack,
		"request_id": c.GetString("request_id"),
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"user_id":    c.GetString("userID"),
	}).Error("Panic recovered")

	response := models.NewErrorResponse("INTERNAL_ERROR", "Internal server error", "PANIC_RECOVERED", c.GetString("request_id"))
	if eh.environment == "development" {
		response.WithDetails("panic", err).WithDetails("stack", stack)
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, response)
}

func (eh *ErrorHandler) handleGinErrors(c *gin.Context) {
	lastError := c.Errors.Last()
	if lastError == nil {
		return
	}

	for _, ginErr := range c.Errors {
		eh.logError(c, ginErr.Err)
	}

	status, response := eh.toResponse(lastError.Err, c.GetString("request_id"))
	c.JSON(status, response)
}

func (eh *ErrorHandler) logError(c *gin.Context, err error) {
	fields := logrus.Fields{
		"error":      err.Error(),
		"request_id": c.GetString("request_id"),
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"user_id":    c.GetString("userID"),
	}

	status, _ := eh.toResponse(err, "")
	if status < http.StatusInternalServerError {
		eh.logger.WithFields(fields).Warn("Client error")
	} else {
		eh.logger.WithFields(fields).Error("Server error")
	}
}

// toResponse maps an error to its status and error body.
func (eh *ErrorHandler) toResponse(err error, requestID string) (int, *models.ErrorResponse) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		resp := models.NewErrorResponse(models.ErrorTypeValidation, "Validation failed", models.CodeValidationFailed, requestID)
		for _, fe := range validationErrs {
			resp.WithDetails(fe.Field(), fe.Tag())
		}
		return http.StatusBadRequest, resp
	}

	if serviceErr, ok := utils.GetServiceError(err); ok {
		status := serviceErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		resp := models.NewErrorResponse(serviceErr.Code, serviceErr.Message, serviceErr.Code, requestID)
		if serviceErr.Details != "" {
			resp.WithDetails("details", serviceErr.Details)
		}
		return status, resp
	}

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return http.StatusNotFound, models.NewErrorResponse(models.ErrorTypeNotFound, "Resource not found", "RESOURCE_NOT_FOUND", requestID)
	case mongo.IsTimeout(err):
		return http.StatusGatewayTimeout, models.NewErrorResponse("TIMEOUT", "Database operation timed out", "DATABASE_TIMEOUT", requestID)
	case mongo.IsNetworkError(err):
		return http.StatusServiceUnavailable, models.NewErrorResponse("SERVICE_UNAVAILABLE", "Database connection error", "DATABASE_CONNECTION_ERROR", requestID)
	}

	resp := models.NewErrorResponse("INTERNAL_ERROR", "An unexpected error occurred", "UNKNOWN_ERROR", requestID)
	if eh.environment == "development" {
		resp.WithDetails("original_error", err.Error())
	}
	return http.StatusInternalServerError, resp
}
