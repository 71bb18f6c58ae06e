package models

import "time"

// ErrorResponse is the body written by middleware that aborts a request
// before a controller runs (auth, rate limiting, recovered panics).
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func NewErrorResponse(errorType, message, code, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Error:     errorType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

func (e *ErrorResponse) WithDetails(key string, value interface{}) *ErrorResponse {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

const (
	ErrorTypeValidation = "VALIDATION_ERROR"
	ErrorTypeNotFound   = "NOT_FOUND"
	ErrorTypeRateLimit  = "RATE_LIMIT_EXCEEDED"

	CodeValidationFailed = "VALIDATION_FAILED"
	CodeTooManyRequests  = "TOO_MANY_REQUESTS"
)
