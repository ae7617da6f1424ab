// Package llm adapts upstream language model providers to the option
// generator's Completer interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

// ErrorType classifies upstream failures.
type ErrorType string

// Error types.
const (
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeServer    ErrorType = "server"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeResponse  ErrorType = "response"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// ErrMissingAPIKey is returned by New when a hosted provider has no key.
var ErrMissingAPIKey = errors.New("llm api key not configured")

// Error is a classified upstream failure.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	parts := []string{string(e.Type)}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable lets the retry package decide without importing llm.
func (e *Error) IsRetryable() bool { return e.Retryable }

func newError(t ErrorType, msg string, retryable bool, status int, cause error) *Error {
	return &Error{Type: t, Message: msg, Retryable: retryable, StatusCode: status, Cause: cause}
}

// ClassifyError maps a provider error to an *Error. Auth, model and endpoint
// failures are permanent; rate limits, 5xx, timeouts and connection failures
// are retryable.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	status := statusCode(err)
	if status > 0 {
		switch {
		case status == 401 || status == 403:
			return newError(ErrorTypeAuth, "authentication failed", false, status, err)
		case status == 404:
			return newError(ErrorTypeEndpoint, "endpoint or model not found", false, status, err)
		case status == 408:
			return newError(ErrorTypeTimeout, "request timeout", true, status, err)
		case status == 429:
			return newError(ErrorTypeRateLimit, "rate limited", true, status, err)
		case status >= 500:
			return newError(ErrorTypeServer, "server error", true, status, err)
		case status >= 400:
			return newError(ErrorTypeUnknown, "request rejected", false, status, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorTypeTimeout, "request timeout", true, 0, err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(ErrorTypeTimeout, "request canceled", false, 0, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ErrorTypeTimeout, "request timeout", true, 0, err)
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "invalid x-api-key"):
		return newError(ErrorTypeAuth, "authentication failed", false, 0, err)
	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return newError(ErrorTypeModel, "model not found", false, 0, err)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") || strings.Contains(lower, "connection reset"):
		return newError(ErrorTypeEndpoint, "connection failed", true, 0, err)
	case strings.Contains(lower, "timeout"):
		return newError(ErrorTypeTimeout, "request timeout", true, 0, err)
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "overloaded"):
		return newError(ErrorTypeRateLimit, "rate limited", true, 0, err)
	}
	for _, code := range []string{"500", "502", "503", "504", "529"} {
		if strings.Contains(lower, "status code: "+code) {
			return newError(ErrorTypeServer, "server error", true, 0, err)
		}
	}
	return newError(ErrorTypeUnknown, "llm error", false, 0, err)
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var antErr *anthropic.RequestError
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	return 0
}
