package utils

import (
	"net/http"
	"time"

	"safewalk/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Success responses
func SuccessResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, models.APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func SuccessResponseWithMeta(c *gin.Context, message string, data interface{}, meta *models.MetaData) {
	c.JSON(http.StatusOK, models.APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now(),
	})
}

func CreatedResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, models.APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// Error responses
func ErrorResponse(c *gin.Context, statusCode int, message string, details interface{}) {
	c.JSON(statusCode, models.APIResponse{
		Success: false,
		Message: message,
		Error: &models.APIError{
			Code:    getErrorCode(statusCode),
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
	})
}

func ValidationErrorResponse(c *gin.Context, validationErrors []ValidationError) {
	c.JSON(http.StatusBadRequest, models.APIResponse{
		Success: false,
		Message: "Validation failed",
		Error: &models.APIError{
			Code:    models.ErrCodeValidation,
			Message: "Validation failed",
			Details: validationErrors,
		},
		Timestamp: time.Now(),
	})
}

func UnauthorizedResponse(c *gin.Context, message string) {
	if message == "" {
		message = "Unauthorized access"
	}
	c.JSON(http.StatusUnauthorized, models.APIResponse{
		Success: false,
		Message: message,
		Error: &models.APIError{
			Code:    models.ErrCodeAuthentication,
			Message: message,
		},
		Timestamp: time.Now(),
	})
}

func InternalServerErrorResponse(c *gin.Context, message string) {
	if message == "" {
		message = "Internal server error"
	}
	c.JSON(http.StatusInternalServerError, models.APIResponse{
		Success: false,
		Message: message,
		Error: &models.APIError{
			Code:    models.ErrCodeInternal,
			Message: message,
		},
		Timestamp: time.Now(),
	})
}

// ServiceErrorResponse renders an engine or repository error. Service errors
// carry their own status; anything else is logged and reported as a 500 with
// the fallback message.
func ServiceErrorResponse(c *gin.Context, err error, fallback string) {
	serviceErr, ok := GetServiceError(err)
	if !ok || serviceErr.StatusCode >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"user_id":    c.GetString("userID"),
			"request_id": c.GetString("request_id"),
			"path":       c.Request.URL.Path,
		}).Errorf("%s: %v", fallback, err)
	}
	if !ok {
		InternalServerErrorResponse(c, fallback)
		return
	}

	status := serviceErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, models.APIResponse{
		Success: false,
		Message: serviceErr.Message,
		Error: &models.APIError{
			Code:    serviceErr.Code,
			Message: serviceErr.Message,
			Details: nonEmptyDetails(serviceErr.Details),
		},
		Timestamp: time.Now(),
	})
}

func nonEmptyDetails(details string) interface{} {
	if details == "" {
		return nil
	}
	return details
}

// Helper functions
func getErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return models.ErrCodeValidation
	case http.StatusUnauthorized:
		return models.ErrCodeAuthentication
	case http.StatusForbidden:
		return models.ErrCodeAuthorization
	case http.StatusNotFound:
		return models.ErrCodeNotFound
	case http.StatusConflict:
		return models.ErrCodeConflict
	case http.StatusTooManyRequests:
		return models.ErrCodeRateLimit
	case http.StatusInternalServerError:
		return models.ErrCodeInternal
	case http.StatusServiceUnavailable:
		return models.ErrCodeExternal
	default:
		return models.ErrCodeInternal
	}
}

func CreateListMeta(limit, count int) *models.MetaData {
	return &models.MetaData{
		Limit: limit,
		Count: count,
	}
}

// BadRequestResponse sends a 400 Bad Request response
func BadRequestResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusBadRequest, message, nil)
}

// HealthCheckResponse creates a health check response
func HealthCheckResponse(services map[string]string, version, uptime string, engine *models.EngineStats) models.HealthResponse {
	status := "healthy"
	for _, serviceStatus := range services {
		if serviceStatus != "healthy" {
			status = "unhealthy"
			break
		}
	}

	return models.HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		Version:   version,
		Uptime:    uptime,
		Engine:    engine,
	}
}
