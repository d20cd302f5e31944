// Package netspec provides network specification error types.
//
// These errors are produced while resolving a raw NetworkSpec and are
// collected into a single SpecError so an operator sees every problem in
// one pass.
package netspec

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents an invalid value in the network spec
type ValidationError struct {
	// Object is the spec object that failed validation (e.g. "switch 2", "rule discord")
	Object string

	// Field is the field that failed validation
	Field string

	// Value is the invalid value
	Value interface{}

	// Message describes the validation failure
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid %s=%v: %s", e.Object, e.Field, e.Value, e.Message)
}

// UnresolvedNameError is returned when a rule or forwarding entry references
// a name that is not a host, subnet, group or literal address
type UnresolvedNameError struct {
	Object string
	Name   string
}

func (e *UnresolvedNameError) Error() string {
	return fmt.Sprintf("%s: unresolved name %q", e.Object, e.Name)
}

// CircularGroupError is returned when group membership forms a cycle
type CircularGroupError struct {
	Group string
}

func (e *CircularGroupError) Error() string {
	return fmt.Sprintf("circular dependency detected in group '%s'", e.Group)
}

// SpecError aggregates every error found while resolving a spec
type SpecError struct {
	Errs []error
}

func (e *SpecError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("network spec errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (e *SpecError) Unwrap() []error {
	return e.Errs
}

// NewValidationError creates a new ValidationError
func NewValidationError(object, field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Object:  object,
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsValidationError checks if err is or wraps a ValidationError
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsUnresolvedName checks if err is or wraps an UnresolvedNameError
func IsUnresolvedName(err error) bool {
	var target *UnresolvedNameError
	return errors.As(err, &target)
}

// IsCircularGroup checks if err is or wraps a CircularGroupError
func IsCircularGroup(err error) bool {
	var target *CircularGroupError
	return errors.As(err, &target)
}
