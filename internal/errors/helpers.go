package errors

import (
	"fmt"
	"net/http"
)

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation)
}

// NewDeliveryError classifies a failed endpoint delivery. A zero status means
// the request never produced a response (transport failure) and is retryable,
// as is any 5xx. Every other status is a client error.
func NewDeliveryError(endpoint string, statusCode int, err error) *AppError {
	if err == nil {
		err = fmt.Errorf("unexpected status %d", statusCode)
	}

	var appErr *AppError
	if statusCode == 0 || statusCode >= 500 {
		appErr = WrapRetryable(err, ErrCodeRetryableError, "endpoint delivery failed")
	} else {
		appErr = Wrap(err, ErrCodeClientError, "endpoint rejected delivery")
	}

	appErr = appErr.WithContext("endpoint", endpoint)
	if statusCode != 0 {
		appErr = appErr.WithContext("status_code", statusCode)
	}
	return appErr
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration)
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// NewInvalidInputError creates an input validation error
func NewInvalidInputError(field, message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithContext("field", field)
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodeClientError:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeRetryableError:
		return http.StatusBadGateway
	case ErrCodeDatabaseQuery, ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed admin requests
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{RequestID: requestID}
	response.Error.Code = GetCode(err)
	if appErr, ok := As(err); ok {
		response.Error.Message = appErr.Message
	} else {
		response.Error.Message = "An internal error occurred"
	}
	return response
}
