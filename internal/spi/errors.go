package spi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies connector host errors for transport mapping and
// retry decisions.
type ErrorType string

const (
	// ErrorTypeConfigInvalid indicates a connector configuration failed
	// validation or a required property is missing.
	ErrorTypeConfigInvalid ErrorType = "config_invalid"

	// ErrorTypeUnknownConnectorType indicates no factory is registered for
	// the requested (type, version) pair.
	ErrorTypeUnknownConnectorType ErrorType = "unknown_connector_type"

	// ErrorTypeConnectorNotFound indicates no instance exists for the
	// requested id.
	ErrorTypeConnectorNotFound ErrorType = "connector_not_found"

	// ErrorTypeNotSupported indicates the connector lacks the requested
	// capability.
	ErrorTypeNotSupported ErrorType = "not_supported"

	// ErrorTypeValidation indicates input failed validation (filter AST,
	// operation payload, operation options).
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeCircuitOpen indicates the circuit breaker is open.
	ErrorTypeCircuitOpen ErrorType = "circuit_open"

	// ErrorTypeTooManyRequests indicates the breaker concurrency cap was
	// reached.
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"

	// ErrorTypeBreakerTimeout indicates the per-call breaker timer fired.
	ErrorTypeBreakerTimeout ErrorType = "breaker_timeout"

	// ErrorTypeBackend indicates the connector implementation failed or the
	// backend returned a non-2xx response.
	ErrorTypeBackend ErrorType = "backend_error"

	// ErrorTypeTokenRequest indicates the OAuth token endpoint returned a
	// non-2xx or malformed response.
	ErrorTypeTokenRequest ErrorType = "token_request_failed"

	// ErrorTypeProtocol indicates a malformed frame or missing required
	// fields on the session transport.
	ErrorTypeProtocol ErrorType = "protocol_error"
)

// wireNames maps error types to the names carried in wire error payloads.
var wireNames = map[ErrorType]string{
	ErrorTypeConfigInvalid:        "ConfigInvalid",
	ErrorTypeUnknownConnectorType: "UnknownConnectorType",
	ErrorTypeConnectorNotFound:    "ConnectorNotFound",
	ErrorTypeNotSupported:         "NotSupported",
	ErrorTypeValidation:           "ValidationFailed",
	ErrorTypeCircuitOpen:          "CircuitOpen",
	ErrorTypeTooManyRequests:      "TooManyRequests",
	ErrorTypeBreakerTimeout:       "BreakerTimeout",
	ErrorTypeBackend:              "BackendError",
	ErrorTypeTokenRequest:         "TokenRequestFailed",
	ErrorTypeProtocol:             "ProtocolError",
}

// Error represents a classified connector host error.
type Error struct {
	// Type classifies the error for transport mapping and retry logic.
	Type ErrorType

	// Message is the human-readable error description.
	Message string

	// Property names the offending configuration property for
	// ErrorTypeConfigInvalid errors.
	Property string

	// StatusCode is the backend HTTP status code, if one applies.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message

	if e.Type != "" {
		msg = fmt.Sprintf("%s (type: %s)", msg, e.Type)
	}

	if e.Property != "" {
		msg = fmt.Sprintf("%s (property: %s)", msg, e.Property)
	}

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if the caller may retry the operation.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeCircuitOpen, ErrorTypeTooManyRequests, ErrorTypeBreakerTimeout:
		return true
	case ErrorTypeBackend:
		return e.StatusCode == 0 || e.StatusCode >= 500
	default:
		return false
	}
}

// WireName returns the name carried in wire error payloads, e.g.
// "CircuitOpen" for ErrorTypeCircuitOpen.
func (e *Error) WireName() string {
	if name, ok := wireNames[e.Type]; ok {
		return name
	}
	return "InternalError"
}

// HTTPStatus maps the error type to an HTTP status code for the API
// transport.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeConfigInvalid, ErrorTypeValidation, ErrorTypeProtocol, ErrorTypeUnknownConnectorType:
		return http.StatusBadRequest
	case ErrorTypeConnectorNotFound:
		return http.StatusNotFound
	case ErrorTypeNotSupported:
		return http.StatusNotImplemented
	case ErrorTypeCircuitOpen:
		return http.StatusServiceUnavailable
	case ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrorTypeBreakerTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeBackend, ErrorTypeTokenRequest:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewConfigInvalid creates a ConfigInvalid error naming the offending
// property.
func NewConfigInvalid(property, message string) *Error {
	return &Error{
		Type:     ErrorTypeConfigInvalid,
		Message:  message,
		Property: property,
	}
}

// NewUnknownConnectorType creates an UnknownConnectorType error for an
// unregistered (type, version) pair.
func NewUnknownConnectorType(connectorType, version string) *Error {
	return &Error{
		Type:    ErrorTypeUnknownConnectorType,
		Message: fmt.Sprintf("no factory registered for %s@%s", connectorType, version),
	}
}

// NewConnectorNotFound creates a ConnectorNotFound error for a missing
// instance id.
func NewConnectorNotFound(id string) *Error {
	return &Error{
		Type:    ErrorTypeConnectorNotFound,
		Message: fmt.Sprintf("connector instance %q not found", id),
	}
}

// NewNotSupported creates a NotSupported error for a missing capability.
func NewNotSupported(operation string) *Error {
	return &Error{
		Type:    ErrorTypeNotSupported,
		Message: fmt.Sprintf("connector does not support %s", operation),
	}
}

// NewValidationError creates a ValidationFailed error.
func NewValidationError(message string) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewValidationErrorf creates a ValidationFailed error with a formatted
// message.
func NewValidationErrorf(format string, args ...any) *Error {
	return NewValidationError(fmt.Sprintf(format, args...))
}

// NewCircuitOpen creates a CircuitOpen error.
func NewCircuitOpen() *Error {
	return &Error{
		Type:    ErrorTypeCircuitOpen,
		Message: "circuit breaker is open",
	}
}

// NewTooManyRequests creates a TooManyRequests error for the breaker
// concurrency cap.
func NewTooManyRequests(limit int) *Error {
	return &Error{
		Type:    ErrorTypeTooManyRequests,
		Message: fmt.Sprintf("concurrency limit of %d reached", limit),
	}
}

// NewBreakerTimeout creates a BreakerTimeout error.
func NewBreakerTimeout(timeoutMs int64) *Error {
	return &Error{
		Type:    ErrorTypeBreakerTimeout,
		Message: fmt.Sprintf("call timed out after %dms", timeoutMs),
	}
}

// NewBackendError wraps a connector implementation failure.
func NewBackendError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeBackend,
		Message: message,
		Cause:   cause,
	}
}

// NewBackendStatusError creates a BackendError from a non-2xx backend
// response.
func NewBackendStatusError(statusCode int, message string) *Error {
	return &Error{
		Type:       ErrorTypeBackend,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewTokenRequestFailed creates a TokenRequestFailed error carrying the
// token endpoint status and a truncated response body.
func NewTokenRequestFailed(statusCode int, body string) *Error {
	const maxBody = 256
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &Error{
		Type:       ErrorTypeTokenRequest,
		Message:    fmt.Sprintf("token request failed: %s", body),
		StatusCode: statusCode,
	}
}

// NewProtocolError creates a ProtocolError for a malformed frame.
func NewProtocolError(message string) *Error {
	return &Error{
		Type:    ErrorTypeProtocol,
		Message: message,
	}
}

// AsError extracts a *Error from err's chain. Unclassified errors are
// wrapped as BackendError so callers always see a typed error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Type:    ErrorTypeBackend,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsType reports whether err's chain contains a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}
