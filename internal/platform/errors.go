package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError is malformed content caught before any network call. Never
// retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// TokenRefreshError means the refresh grant itself was rejected. The account
// has to be reconnected by the user; jobs must not retry.
type TokenRefreshError struct {
	Platform string
	Err      error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("%s token refresh failed: %v", e.Platform, e.Err)
}

func (e *TokenRefreshError) Unwrap() error {
	return e.Err
}

// Error is a normalized platform API failure. Callers decide retry policy off
// Retryable alone and never inspect HTTP status codes themselves.
type Error struct {
	Platform  string
	Code      int
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s: %s", e.Platform, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Platform, e.Message, e.Code)
}

// newAPIError classifies an HTTP status: 429 and 5xx are retryable, other 4xx
// are permanent content rejections.
func newAPIError(platform string, status int, message string) *Error {
	return &Error{
		Platform:  platform,
		Code:      status,
		Message:   message,
		Retryable: status == http.StatusTooManyRequests || status >= 500,
	}
}

// newTransportError covers timeouts and connection failures, which are always
// worth retrying.
func newTransportError(platform string, err error) *Error {
	return &Error{
		Platform:  platform,
		Message:   err.Error(),
		Retryable: true,
	}
}

func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsTokenRefresh(err error) bool {
	var te *TokenRefreshError
	return errors.As(err, &te)
}
