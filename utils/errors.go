package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError represents a service-level error with context
type ServiceError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Details    string `json:"details,omitempty"`
	Cause      error  `json:"-"` // Original error, not exposed in JSON
}

func (e ServiceError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error
func NewServiceError(code, message string) error {
	return ServiceError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) (ServiceError, bool) {
	var serviceErr ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return ServiceError{}, false
}

func NewBadRequestError(message string) error {
	return ServiceError{
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewConflictError(message string) error {
	return ServiceError{
		Code:       ErrCodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// =================== ENGINE ERRORS ===================

// Location and capability errors. Each one needs a different remediation on
// the client, so they stay distinct.
var (
	ErrPermissionDenied    = errors.New("permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrLocationTimeout     = errors.New("location request timed out")
	ErrHardwareUnsupported = errors.New("hardware capability unsupported")
)

// Controller state errors
var (
	ErrSessionActive     = NewConflictError("an alert session is already active")
	ErrSessionExecuting  = NewConflictError("alert is already being sent and cannot be cancelled")
	ErrNoActiveCountdown = NewConflictError("no countdown to cancel")
	ErrUnknownPreset     = NewBadRequestError("unknown message preset")
	ErrEngineClosed      = NewServiceError("ENGINE_CLOSED", "alert engine is shutting down")
)

// LocationErrorFromCode maps a source error code to its sentinel.
func LocationErrorFromCode(code string) error {
	switch code {
	case "permission_denied":
		return ErrPermissionDenied
	case "position_unavailable":
		return ErrPositionUnavailable
	case "timeout":
		return ErrLocationTimeout
	default:
		return fmt.Errorf("%w: %s", ErrPositionUnavailable, code)
	}
}

// LocationErrorCode is the inverse of LocationErrorFromCode.
func LocationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrLocationTimeout):
		return "timeout"
	default:
		return "position_unavailable"
	}
}

// ChannelDeliveryError is scoped to one channel target and is always
// recorded on the channel result, never returned to the caller.
type ChannelDeliveryError struct {
	Channel string
	Target  string
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Channel, e.Target, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error {
	return e.Err
}

// PersistenceError marks a failed write or read on one of the history stores.
type PersistenceError struct {
	Store string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s store %s failed: %v", e.Store, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Error code constants
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeAuthentication = "AUTHENTICATION_ERROR"
	ErrCodeAuthorization  = "AUTHORIZATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal       = "INTERNAL_ERROR"
	ErrCodeDatabase       = "DATABASE_ERROR"
)
