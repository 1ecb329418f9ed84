package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/mesura-ai/mesura/internal/i18n"
)

// Code is the closed error taxonomy for user-facing failures.
type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeRateLimit      Code = "OPENAI_RATE_LIMIT"
	CodeTimeout        Code = "OPENAI_TIMEOUT"
	CodeUnavailable    Code = "OPENAI_UNAVAILABLE"
	CodeNetwork        Code = "NETWORK_ERROR"
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeFileValidation Code = "FILE_VALIDATION_ERROR"
)

// Error is a classified failure carrying the code the HTTP layer maps to a
// status and the localized message shown to the user.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Code) + ": " + e.cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the code to the response status used before the stream
// opens. Once SSE headers are sent the status is already 200 and errors
// travel as events instead.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeFileValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeTimeout, CodeUnavailable, CodeNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds a classified error with the localized message for code.
func NewError(code Code, cause error) *Error {
	return &Error{Code: code, Message: messageFor(code), cause: cause}
}

func messageFor(code Code) string {
	switch code {
	case CodeValidation:
		return i18n.T("error.validation")
	case CodeUnauthorized:
		return i18n.T("error.unauthorized")
	case CodeRateLimit:
		return i18n.T("error.rate_limit")
	case CodeTimeout:
		return i18n.T("error.timeout")
	case CodeUnavailable:
		return i18n.T("error.unavailable")
	case CodeNetwork:
		return i18n.T("error.network")
	case CodeFileValidation:
		return i18n.T("error.file_validation")
	default:
		return i18n.T("error.internal")
	}
}

// statusCoder is implemented by provider and service errors that carry an
// HTTP status.
type statusCoder interface {
	StatusCode() int
}

// Classify maps a provider or network failure onto the taxonomy. Decision
// order: 429, then 5xx, then timeouts, then connection faults, defaulting
// to provider-unavailable. Every class is retryable; the classification
// selects the user-facing message and HTTP status, it does not gate
// retries.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if sc := statusOf(err); sc != 0 {
		switch {
		case sc == http.StatusTooManyRequests:
			return NewError(CodeRateLimit, err)
		case sc >= 500:
			return NewError(CodeUnavailable, err)
		}
	}

	if isTimeout(err) {
		return NewError(CodeTimeout, err)
	}
	if isNetwork(err) {
		return NewError(CodeNetwork, err)
	}

	return NewError(CodeUnavailable, err)
}

func statusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}

	// Provider SDKs often surface the status only in the message.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return http.StatusTooManyRequests
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "UNAVAILABLE"):
		return http.StatusServiceUnavailable
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded")
}

func isNetwork(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable")
}
