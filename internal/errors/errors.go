// Package errors defines the closed set of failure kinds a market data source can
// report and the retry policy that branches on them. Transient kinds are retried
// with exponential backoff; fatal kinds surface immediately.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorType classifies a failure.
type ErrorType string

const (
	// Transient error types
	ErrorTypeNetwork     ErrorType = "network"      // Connectivity issues
	ErrorTypeTimeout     ErrorType = "timeout"      // Request timeout
	ErrorTypeRateLimit   ErrorType = "rate_limit"   // Throttled by the exchange
	ErrorTypeServerError ErrorType = "server_error" // HTTP 5xx or exchange internal errors
	ErrorTypeTemporary   ErrorType = "temporary"    // Exchange reported a temporary condition

	// Fatal error types
	ErrorTypeAuthentication ErrorType = "authentication" // Authentication/authorization failures
	ErrorTypeBadRequest     ErrorType = "bad_request"    // HTTP 4xx or rejected parameters
	ErrorTypeNotFound       ErrorType = "not_found"      // Unknown symbol or endpoint
	ErrorTypeValidation     ErrorType = "validation"     // Malformed response data
	ErrorTypeConfiguration  ErrorType = "configuration"  // Misconfigured source
	ErrorTypeCanceled       ErrorType = "canceled"       // Caller gave up

	ErrorTypeUnknown ErrorType = "unknown"
)

// Transient reports whether failures of this type are worth retrying. Unknown
// failures are retried.
func (t ErrorType) Transient() bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit,
		ErrorTypeServerError, ErrorTypeTemporary, ErrorTypeUnknown:
		return true
	default:
		return false
	}
}

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifiedError is an error tagged with its kind and where it happened.
type ClassifiedError struct {
	Err        error         `json:"error"`
	Type       ErrorType     `json:"type"`
	Severity   Severity      `json:"severity"`
	Retryable  bool          `json:"retryable"`
	Component  string        `json:"component"`
	Operation  string        `json:"operation"`
	StatusCode int           `json:"status_code,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is matches another ClassifiedError by type, or falls through to the wrapped error.
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// New tags err with errorType. Retryability follows the type.
func New(errorType ErrorType, component, operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  severityOf(errorType),
		Retryable: errorType.Transient(),
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

// Transient tags err as retryable regardless of its type.
func Transient(errorType ErrorType, component, operation string, err error) *ClassifiedError {
	ce := New(errorType, component, operation, err)
	ce.Retryable = true
	return ce
}

// Fatal tags err as not retryable regardless of its type.
func Fatal(errorType ErrorType, component, operation string, err error) *ClassifiedError {
	ce := New(errorType, component, operation, err)
	ce.Retryable = false
	return ce
}

// Classify returns err's classification. Errors that already carry one keep it;
// anything else is classified from its chain and message.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	return New(classifyErrorType(err), "", "", err)
}

// IsRetryable reports whether the retry policy should try err again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}

// GetErrorType returns the classified type of err.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}
	return Classify(err).Type
}

func classifyErrorType(err error) ErrorType {
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "connection refused", "connection reset", "connection aborted",
		"no route to host", "host unreachable", "network unreachable", "broken pipe", "eof"):
		return ErrorTypeNetwork
	case containsAny(errStr, "timeout", "deadline exceeded"):
		return ErrorTypeTimeout
	case containsAny(errStr, "rate limit", "too many requests", "quota exceeded"):
		return ErrorTypeRateLimit
	case containsAny(errStr, "unauthorized", "forbidden", "authentication", "invalid credentials"):
		return ErrorTypeAuthentication
	case containsAny(errStr, "server error", "internal server", "service unavailable", "bad gateway"):
		return ErrorTypeServerError
	case containsAny(errStr, "validation", "invalid", "malformed", "parse"):
		return ErrorTypeValidation
	}

	return ErrorTypeUnknown
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func severityOf(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypeAuthentication, ErrorTypeConfiguration:
		return SeverityHigh
	case ErrorTypeValidation, ErrorTypeBadRequest, ErrorTypeNotFound:
		return SeverityMedium
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeCanceled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}
