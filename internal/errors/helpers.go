package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Local storage operation failed")
}

// NewTransportError creates an error for a failed channel or API call.
// 5xx, 408 and 429 responses are considered transient and retryable.
func NewTransportError(transport, endpoint string, statusCode int, err error) *AppError {
	var code ErrorCode
	switch transport {
	case "live":
		code = ErrCodeLiveChannel
	case "history":
		code = ErrCodeHistoryAPI
	case "media":
		code = ErrCodeMediaUpload
	default:
		code = ErrCodeTransientNetwork
	}

	retryable := statusCode == 0 || statusCode >= 500 || statusCode == 429 || statusCode == 408

	appErr := Wrap(err, code, fmt.Sprintf("%s call failed", transport)).
		WithContext("transport", transport).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)
	appErr.Retryable = retryable
	return appErr
}

// NewAuthError creates an authentication error; never retryable.
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication required")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return WrapRetryable(nil, ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// IsTransient reports whether an error should be recovered with the
// backoff policy rather than surfaced. Context cancellation is never
// transient; net timeouts always are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return IsRetryable(err)
}

// IsAuth reports whether an error is an authentication failure that
// must be surfaced immediately instead of retried.
func IsAuth(err error) bool {
	code := GetCode(err)
	return code == ErrCodeAuthentication || code == ErrCodeAuthorization
}
