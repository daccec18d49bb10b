// Package errors provides the categorized error values used across the runtime.
package errors

import (
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	// CategoryContract marks a broken isolation or calling contract. These
	// are raised with panic and never returned.
	CategoryContract  ErrorCategory = "CONTRACT"
	CategoryTransport ErrorCategory = "TRANSPORT"
	CategoryProtocol  ErrorCategory = "PROTOCOL"
	CategoryResource  ErrorCategory = "RESOURCE"
	CategoryConfig    ErrorCategory = "CONFIG"
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// Is matches on category and code so sentinel values compare with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Category == e.Category && t.Code == e.Code
}

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	return newWithSkip(2, category, code, message, context)
}

func newWithSkip(skip int, category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(skip)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// Violation builds the value passed to panic when a caller breaks a contract.
func Violation(code, message string) *StandardError {
	return newWithSkip(2, CategoryContract, code, message, nil)
}

// IsViolation reports whether a recovered panic value is a contract violation.
func IsViolation(v interface{}) bool {
	e, ok := v.(*StandardError)
	return ok && e.Category == CategoryContract
}

// Common error constructors

func Transport(code, message string, context map[string]interface{}) *StandardError {
	return newWithSkip(2, CategoryTransport, code, message, context)
}

func Protocol(code, message string, context map[string]interface{}) *StandardError {
	return newWithSkip(2, CategoryProtocol, code, message, context)
}

func InvalidConfig(field string, value interface{}, reason string) *StandardError {
	return newWithSkip(2, CategoryConfig, "INVALID_CONFIG",
		fmt.Sprintf("Invalid %s %v: %s", field, value, reason),
		map[string]interface{}{"field": field, "value": value})
}

func Timeout(operation string) *StandardError {
	return newWithSkip(2, CategoryResource, "TIMEOUT",
		fmt.Sprintf("Timed out waiting for %s", operation),
		map[string]interface{}{"operation": operation})
}
