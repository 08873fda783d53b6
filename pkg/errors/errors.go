// Package errors provides structured error handling for alchemsub.
//
// Errors carry a Type used to distinguish fatal input problems
// (ErrorTypeValidation), per-group observable failures (ErrorTypeSelection)
// and non-fatal diagnostics (ErrorTypeDegenerate) from the ambient failures
// of the I/O layers.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents malformed input: duplicate time stamps
	// within a group, a misaligned series, invalid options
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeSelection represents a failure to resolve a usable observable
	ErrorTypeSelection ErrorType = "selection"
	// ErrorTypeDegenerate represents a group too short to analyze
	ErrorTypeDegenerate ErrorType = "degenerate"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents data decoding and encoding errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeCanceled represents context cancellation
	ErrorTypeCanceled ErrorType = "canceled"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Details are rendered in key order
// so messages are stable.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same type. This lets callers
// match categories with errors.Is(err, &Error{Type: ...}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value and whether it was set.
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Validation creates a validation error
func Validation(message string) *Error {
	return &Error{Type: ErrorTypeValidation, Message: message, Stack: captureStack(2)}
}

// Selection creates a selection error
func Selection(message string) *Error {
	return &Error{Type: ErrorTypeSelection, Message: message, Stack: captureStack(2)}
}

// Degenerate creates a degenerate group warning
func Degenerate(message string) *Error {
	return &Error{Type: ErrorTypeDegenerate, Message: message, Stack: captureStack(2)}
}

// IsType checks if the error, or any error it combines, is of the given type
func IsType(err error, errType ErrorType) bool {
	for _, e := range multierr.Errors(err) {
		var se *Error
		if errors.As(e, &se) && se.Type == errType {
			return true
		}
	}
	return false
}

// Combine merges errors into one, dropping nils. Individual errors stay
// reachable through Errors.
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}

// Errors splits an error produced by Combine
func Errors(err error) []error {
	return multierr.Errors(err)
}

// As is errors.As, re-exported so callers need not import both packages.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
