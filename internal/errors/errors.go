package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/modelforge/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed or missing request fields (400)
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthentication represents a missing or invalid session (401)
	CategoryAuthentication ErrorCategory = "authentication"
	// CategoryAuthorization represents an action not permitted for the caller or state (403/400)
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents unknown ids (404)
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents duplicate resources (409)
	CategoryConflict ErrorCategory = "conflict"
	// CategoryUpstream represents IPFS gateway failures (500/503)
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryRateLimit represents throttled callers (429)
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem represents internal invariant violations (500)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewValidationError creates a validation error carrying per-field messages
func NewValidationError(message string, fields map[string]string) *CategorizedError {
	var details map[string]interface{}
	if len(fields) > 0 {
		details = make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
	}
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_FAILED",
		Message:    message,
		Details:    details,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthentication,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// NewAlreadyProcessedError is returned when a terminal contribution is applied again
func NewAlreadyProcessedError(contributionID int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusBadRequest,
		Code:       "ALREADY_PROCESSED",
		Message:    "Contribution already processed",
		Details: map[string]interface{}{
			"contributionId": contributionID,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit float64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded. Please try again later.",
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

// NewUpstreamError wraps a gateway failure; the cause message is surfaced to the client
func NewUpstreamError(message string, cause error) *CategorizedError {
	e := &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusInternalServerError,
		Code:       "UPSTREAM_ERROR",
		Message:    message,
		Cause:      cause,
	}
	if cause != nil {
		e.Details = map[string]interface{}{"cause": cause.Error()}
	}
	return e
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    message,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
