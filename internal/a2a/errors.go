package a2a

import (
	"errors"
	"fmt"
)

// ErrorKind classifies protocol errors into the stable taxonomy used for
// JSON-RPC surfacing and retry decisions.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindMessageExpired     ErrorKind = "message_expired"
	KindAgentNotFound      ErrorKind = "agent_not_found"
	KindTaskNotFound       ErrorKind = "task_not_found"
	KindAuthentication     ErrorKind = "authentication"
	KindAuthorization      ErrorKind = "authorization"
	KindRateLimitExceeded  ErrorKind = "rate_limit_exceeded"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindTimeout            ErrorKind = "timeout"
	KindVersionMismatch    ErrorKind = "version_mismatch"
	KindNetwork            ErrorKind = "network"
	KindInternal           ErrorKind = "internal"
)

// Error is the protocol error type. Every error carries a kind with a stable
// JSON-RPC code; transport layers surface it without reinterpretation.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether a client may retry the failed call.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServiceUnavailable, KindRateLimitExceeded:
		return true
	}
	return false
}

// RPCCode returns the stable JSON-RPC error code for this kind.
func (e *Error) RPCCode() int {
	switch e.Kind {
	case KindTaskNotFound:
		return CodeTaskNotFound
	case KindAgentNotFound, KindServiceUnavailable, KindNetwork, KindTimeout:
		return CodeRoutingFailure
	default:
		return CodeValidation
	}
}

// NewError builds an error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an error of the given kind around a cause.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func ValidationError(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

func AgentNotFound(agentID string) *Error {
	return NewError(KindAgentNotFound, "agent %s not found", agentID)
}

func TaskNotFound(taskID string) *Error {
	return NewError(KindTaskNotFound, "task %s not found", taskID)
}

func AuthenticationError(format string, args ...any) *Error {
	return NewError(KindAuthentication, format, args...)
}

func AuthorizationError(format string, args ...any) *Error {
	return NewError(KindAuthorization, format, args...)
}

func ServiceUnavailable(format string, args ...any) *Error {
	return NewError(KindServiceUnavailable, format, args...)
}

func TimeoutError(format string, args ...any) *Error {
	return NewError(KindTimeout, format, args...)
}

func VersionMismatch(expected, got string) *Error {
	return NewError(KindVersionMismatch, "protocol version %s not supported, expected %s", got, expected)
}

func InternalError(format string, args ...any) *Error {
	return NewError(KindInternal, format, args...)
}

// ErrMessageExpired is returned when an envelope's TTL has elapsed before
// processing.
var ErrMessageExpired = NewError(KindMessageExpired, "message has expired")

// AsError extracts an *Error from err, wrapping foreign errors as Internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: err.Error(), cause: err}
}
