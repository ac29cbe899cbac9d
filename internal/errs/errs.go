// Package errs defines the typed errors raised while processing and querying spans.
//
// Callers distinguish them with errors.As; the HTTP layer maps every type here
// to a 4xx response and everything else to a 500.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError represents malformed input: a bad identifier, an invalid
// pagination combination, an unparseable time range.
type ValidationError struct {
	// Field identifies which input field failed validation.
	Field string

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Validation is shorthand for &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StructureError reports a span set that does not form exactly one tree.
type StructureError struct {
	// Reason is the human-readable description.
	Reason string

	// Roots is the number of parentless spans found.
	Roots int
}

// Error implements the error interface.
func (e *StructureError) Error() string {
	return fmt.Sprintf("invalid trace structure: %s (roots=%d)", e.Reason, e.Roots)
}

// BuilderError wraps the failure of a single output builder for one span.
type BuilderError struct {
	Builder string
	TraceID string
	SpanID  string
	Cause   error
}

// Error implements the error interface.
func (e *BuilderError) Error() string {
	return fmt.Sprintf("builder %s failed for span %s/%s: %v", e.Builder, e.TraceID, e.SpanID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *BuilderError) Unwrap() error {
	return e.Cause
}

// FilteringError reports a filter condition that cannot be evaluated, such as
// an operator that does not apply to the addressed key.
type FilteringError struct {
	Key      string
	Operator string
	Message  string
}

// Error implements the error interface.
func (e *FilteringError) Error() string {
	return fmt.Sprintf("unsupported filter %s %s: %s", e.Key, e.Operator, e.Message)
}

// IsUserError reports whether err is caused by the caller's input.
func IsUserError(err error) bool {
	var (
		ve *ValidationError
		se *StructureError
		fe *FilteringError
	)
	return errors.As(err, &ve) || errors.As(err, &se) || errors.As(err, &fe)
}
