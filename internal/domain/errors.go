package domain

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

type ErrorType int

const (
	ErrorTypeValidation ErrorType = iota
	ErrorTypeUnknownTool
	ErrorTypeHandler
	ErrorTypeDependency
	ErrorTypeTimeout
	ErrorTypeNotFound
	ErrorTypeConflict
	ErrorTypeInternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation_rejected"
	case ErrorTypeUnknownTool:
		return "unknown_tool"
	case ErrorTypeHandler:
		return "handler_failure"
	case ErrorTypeDependency:
		return "dependency_failed"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeConflict:
		return "conflict"
	default:
		return "internal"
	}
}

type Error struct {
	Type    ErrorType
	Message string
	Details map[string]interface{}
	Err     error
}

func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e Error) Unwrap() error {
	return e.Err
}

func NewValidationRejectedError(toolName, reason string) Error {
	return Error{
		Type:    ErrorTypeValidation,
		Message: "tool call rejected: " + reason,
		Details: map[string]interface{}{
			"tool_name": toolName,
			"reason":    reason,
		},
	}
}

func NewUnknownToolError(toolName string) Error {
	return Error{
		Type:    ErrorTypeUnknownTool,
		Message: "no handler registered for tool: " + toolName,
		Details: map[string]interface{}{
			"tool_name": toolName,
		},
	}
}

func NewHandlerError(toolName string, err error) Error {
	return Error{
		Type:    ErrorTypeHandler,
		Message: "tool handler failed: " + toolName,
		Details: map[string]interface{}{
			"tool_name": toolName,
		},
		Err: err,
	}
}

func NewDependencyFailedError(unitID, depID string) Error {
	return Error{
		Type:    ErrorTypeDependency,
		Message: fmt.Sprintf("dependency %s failed", depID),
		Details: map[string]interface{}{
			"unit_id":       unitID,
			"dependency_id": depID,
		},
	}
}

func NewTimeoutError(unitID string, timeout time.Duration) Error {
	return Error{
		Type:    ErrorTypeTimeout,
		Message: fmt.Sprintf("dependency wait exceeded %s", timeout),
		Details: map[string]interface{}{
			"unit_id": unitID,
			"timeout": timeout.String(),
		},
	}
}

func NewNotFoundError(kind, id string) Error {
	return Error{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]interface{}{
			"kind": kind,
			"id":   id,
		},
	}
}

func typeOf(err error) (ErrorType, bool) {
	var domainErr Error
	if errors.As(err, &domainErr) {
		return domainErr.Type, true
	}
	return 0, false
}

func IsValidationRejected(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeValidation
}

func IsUnknownTool(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeUnknownTool
}

func IsHandlerFailure(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeHandler
}

func IsDependencyFailed(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeDependency
}

func IsTimeout(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeTimeout
}

func IsNotFound(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeNotFound
}

// FailedDependency extracts the failed dependency id from a
// dependency-failed error, if present.
func FailedDependency(err error) (string, bool) {
	var domainErr Error
	if !errors.As(err, &domainErr) || domainErr.Type != ErrorTypeDependency {
		return "", false
	}
	dep, ok := domainErr.Details["dependency_id"].(string)
	return dep, ok
}

// PanicError captures a recovered panic from a tool handler or unit
// function, including the stack at the recovery site.
type PanicError struct {
	Scope      string
	PanicValue interface{}
	StackTrace string
	Timestamp  time.Time
}

func (pe *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", pe.Scope, pe.PanicValue)
}

func NewPanicError(scope string, panicValue interface{}) *PanicError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	return &PanicError{
		Scope:      scope,
		PanicValue: panicValue,
		StackTrace: string(buf[:n]),
		Timestamp:  time.Now(),
	}
}
