package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// ErrorCode classifies provider failures
type ErrorCode string

const (
	CodeRateLimit    ErrorCode = "RATE_LIMIT"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeServiceError ErrorCode = "SERVICE_ERROR"
	CodeAPIError     ErrorCode = "API_ERROR"
)

var (
	// ErrInvalidObject is returned when a reply is not a JSON object matching
	// the requested schema
	ErrInvalidObject = errors.New("invalid object from model")
	// ErrNoProvider is returned when no client serves the requested model
	ErrNoProvider = errors.New("no provider configured for model")
)

// APIError is a non-2xx answer from a provider
type APIError struct {
	Provider Provider
	Code     ErrorCode
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s request failed (status %d): %s", e.Code, e.Provider, e.Status, e.Message)
}

// classifyStatus maps an HTTP status to the error taxonomy
func classifyStatus(status int) ErrorCode {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status >= 500 || status == 529:
		return CodeServiceError
	default:
		return CodeAPIError
	}
}

func newAPIError(provider Provider, status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		cut := 512
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return &APIError{Provider: provider, Code: classifyStatus(status), Status: status, Message: msg}
}

// ErrorCodeOf returns the taxonomy code for err, or "" if it is not a
// provider error.
func ErrorCodeOf(err error) ErrorCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// failureReason is the metric label for a failed attempt
func failureReason(err error) string {
	if code := ErrorCodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, ErrInvalidObject) {
		return "invalid_object"
	}
	if errors.Is(err, ErrNoProvider) {
		return "no_provider"
	}
	return "error"
}
