package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error taxonomy. Every failure raised by the core wraps exactly one of these
// sentinels so callers can classify it with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("already exists")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidState    = errors.New("invalid state")
	ErrExecutionFailed = errors.New("execution failed")
)

// ValidationError carries validator rejections keyed by property name.
type ValidationError struct {
	Problems map[string]string // property name -> rejection reason
}

// NewValidationError builds a ValidationError for a single property.
func NewValidationError(property, reason string) *ValidationError {
	return &ValidationError{Problems: map[string]string{property: reason}}
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Problems))
	for name := range e.Problems {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Problems[name]))
	}
	return "invalid property value: " + strings.Join(parts, "; ")
}

// Reason returns the rejection message for one property.
func (e *ValidationError) Reason(property string) string {
	return e.Problems[property]
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ExecutionError wraps a failure raised by an algorithm body while running.
type ExecutionError struct {
	Algorithm string
	Version   int
	Cause     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s v%d: %v", e.Algorithm, e.Version, e.Cause)
}

// Is matches ErrExecutionFailed in addition to the wrapped cause.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
