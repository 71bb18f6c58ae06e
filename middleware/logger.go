package middleware

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LoggerConfig holds logger configuration. Request and response bodies are
// never logged: alert bodies carry the user's position.
type LoggerConfig struct {
	Logger         *logrus.Logger
	SkipPaths      []string
	SkipUserAgents []string
	SlowThreshold  time.Duration
}

// LoggerMiddleware returns a logger middleware with configuration
func LoggerMiddleware(config LoggerConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.SlowThreshold == 0 {
		config.SlowThreshold = 5 * time.Second
	}

	return gin.HandlerFunc(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		if shouldSkipPath(c.Request.URL.Path, config.SkipPaths) ||
			shouldSkipUserAgent(c.GetHeader("User-Agent"), config.SkipUserAgents) {
			c.Next()
			return
		}

		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime)
		responseTime := math.Ceil(float64(duration.Nanoseconds()) / 1000000.0)
		if !c.Writer.Written() {
			c.Header("X-Response-Time", fmt.Sprintf("%.0fms", responseTime))
		}

		fields := createLogFields(c, duration, requestID)
		logRequest(config.Logger, c.Writer.Status(), duration, config.SlowThreshold, fields)
	})
}

// DefaultLoggerMiddleware returns a logger middleware with default configuration
func DefaultLoggerMiddleware() gin.HandlerFunc {
	return LoggerMiddleware(LoggerConfig{
		Logger: logrus.StandardLogger(),
		SkipPaths: []string{
			"/health",
			"/favicon.ico",
		},
		SkipUserAgents: []string{
			"kube-probe",
			"GoogleHC",
		},
	})
}

// createLogFields creates structured log fields
func createLogFields(c *gin.Context, duration time.Duration, requestID string) logrus.Fields {
	fields := logrus.Fields{
		"request_id":    requestID,
		"method":        c.Request.Method,
		"path":          c.Request.URL.Path,
		"status":        c.Writer.Status(),
		"latency":       duration.String(),
		"latency_ms":    float64(duration.Nanoseconds()) / 1000000.0,
		"ip":            c.ClientIP(),
		"user_agent":    c.GetHeader("User-Agent"),
		"response_size": c.Writer.Size(),
	}

	if userID := c.GetString("userID"); userID != "" {
		fields["user_id"] = userID
	}

	if len(c.Errors) > 0 {
		errs := make([]string, len(c.Errors))
		for i, err := range c.Errors {
			errs[i] = err.Error()
		}
		fields["errors"] = errs
	}

	return fields
}

// logRequest logs the HTTP request
func logRequest(logger *logrus.Logger, statusCode int, duration, slow time.Duration, fields logrus.Fields) {
	message := fmt.Sprintf("%s %s %d %s",
		fields["method"],
		fields["path"],
		statusCode,
		duration,
	)

	switch {
	case statusCode >= 500:
		logger.WithFields(fields).Error(message)
	case statusCode >= 400:
		logger.WithFields(fields).Warn(message)
	case duration > slow:
		logger.WithFields(fields).Warn(message + " (slow request)")
	default:
		logger.WithFields(fields).Info(message)
	}
}

// shouldSkipPath checks if path should be skipped
func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// shouldSkipUserAgent checks if user agent should be skipped
func shouldSkipUserAgent(userAgent string, skipUserAgents []string) bool {
	for _, skipUA := range skipUserAgents {
		if strings.Contains(userAgent, skipUA) {
			return true
		}
	}
	return false
}
