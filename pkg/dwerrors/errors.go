// Package dwerrors provides the structured error taxonomy used by the
// extraction engine. Errors carry a category, a message, an optional cause,
// key-value details and the call stack at the point of creation.
//
// # Categories
//
// The category decides how far a failure travels:
//   - ErrorTypeConfig aborts the whole run before (or instead of) further targets
//   - ErrorTypeQuery, ErrorTypeData, ErrorTypeFile and ErrorTypeState abort only
//     the target being processed
//   - ErrorTypeSerialization is recovered locally by the sanitizer
//
// # Usage
//
//	if _, ok := resolved["id"]; !ok {
//	    return dwerrors.New(dwerrors.ErrorTypeConfig, "required column not found").
//	        WithDetail("target", t.Name).
//	        WithDetail("column", "id")
//	}
//
//	rows, err := pool.Query(ctx, sql, args...)
//	if err != nil {
//	    return dwerrors.Wrap(err, dwerrors.ErrorTypeQuery, "extraction query failed")
//	}
package dwerrors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType is the category of an error.
type ErrorType string

const (
	// ErrorTypeInternal represents unexpected internal failures
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid input values
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors; they are fatal for a run
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents source connectivity errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeQuery represents metadata or data query failures
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeData represents unexpected result shapes
	ErrorTypeData ErrorType = "data"
	// ErrorTypeSerialization represents a value that could not be encoded
	ErrorTypeSerialization ErrorType = "serialization"
	// ErrorTypeFile represents artifact write failures
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeState represents watermark persistence failures
	ErrorTypeState ErrorType = "state"
)

// Error is a categorised error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is one frame of the captured call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Details are rendered in key order so
// log lines stay stable between runs.
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

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key-value detail and returns the same error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given type, capturing the caller's stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a category and message. The stack of an already
// structured cause is preserved. Wrap returns nil when err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether the outermost structured error in err's chain has
// the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// HasType reports whether any structured error in err's chain has the given type.
func HasType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsFatal reports whether err must abort the whole run rather than a single target.
func IsFatal(err error) bool {
	return HasType(err, ErrorTypeConfig)
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	stack := make([]StackFrame, 0, n)
	for {
		frame, more := frames.Next()
		stack = append(stack, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}
	return stack
}
