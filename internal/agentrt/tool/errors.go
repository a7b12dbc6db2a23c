package tool

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for tool execution.
var (
	ErrToolTimeout = errors.New("tool execution timed out")
	ErrToolPanic   = errors.New("tool panicked")
)

// ErrorType categorizes a tool execution failure for retry logic and
// surfaced diagnostics.
type ErrorType string

const (
	ErrorNotFound     ErrorType = "not_found"
	ErrorInvalidInput ErrorType = "invalid_input"
	ErrorTimeout      ErrorType = "timeout"
	ErrorNetwork      ErrorType = "network"
	ErrorPermission   ErrorType = "permission"
	ErrorRateLimit    ErrorType = "rate_limit"
	ErrorExecution    ErrorType = "execution"
	ErrorPanic        ErrorType = "panic"
	ErrorUnknown      ErrorType = "unknown"
)

// IsRetryable reports whether this error type suggests a retry may succeed.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case ErrorTimeout, ErrorNetwork, ErrorRateLimit:
		return true
	default:
		return false
	}
}

// Error is a structured tool execution failure with enough context to
// decide whether and how to retry.
type Error struct {
	Type       ErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Retryable  bool
	Attempts   int
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error from a cause, classifying its type from the
// cause's content when the caller hasn't already pinned one down.
func NewError(toolName string, cause error) *Error {
	e := &Error{
		ToolName: toolName,
		Cause:    cause,
		Type:     ErrorUnknown,
		Attempts: 1,
	}
	if cause != nil {
		e.Message = cause.Error()
		e.Type = classify(cause)
		e.Retryable = e.Type.IsRetryable()
	}
	return e
}

func (e *Error) WithType(t ErrorType) *Error {
	e.Type = t
	e.Retryable = t.IsRetryable()
	return e
}

func (e *Error) WithToolCallID(id string) *Error {
	e.ToolCallID = id
	return e
}

func (e *Error) WithAttempts(n int) *Error {
	e.Attempts = n
	return e
}

func classify(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}
	if errors.Is(err, ErrToolTimeout) {
		return ErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ErrorPanic
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "context deadline"):
		return ErrorTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"), strings.Contains(msg, "dns"), strings.Contains(msg, "refused"), strings.Contains(msg, "unreachable"):
		return ErrorNetwork
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return ErrorRateLimit
	case strings.Contains(msg, "permission"), strings.Contains(msg, "forbidden"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "access denied"):
		return ErrorPermission
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"), strings.Contains(msg, "required"), strings.Contains(msg, "missing"):
		return ErrorInvalidInput
	default:
		return ErrorExecution
	}
}

// AsToolError extracts an *Error from an error chain.
func AsToolError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err, classified if necessary, should be retried.
func IsRetryable(err error) bool {
	if e, ok := AsToolError(err); ok {
		return e.Retryable
	}
	return classify(err).IsRetryable()
}
