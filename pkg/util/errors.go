// Package util provides logging helpers and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for failure classification across the engine
var (
	ErrSpecValidation    = errors.New("spec validation failed")
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrUndefinedData     = errors.New("undefined data id")
	ErrCircularReference = errors.New("circular reference")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrDeviceLocked      = errors.New("device locked by another holder")
	ErrNotConnected      = errors.New("device not connected")
	ErrTimingSequence    = errors.New("timing mark out of sequence")
	ErrValidationFailed  = errors.New("validation failed")
)

// SpecError reports a build-time validation failure, naming the test and
// the offending action where known.
type SpecError struct {
	Test     string
	ActionID int
	Position int // index into test_actions, -1 when not action-scoped
	Detail   string
}

func (e *SpecError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("spec %q: %s", e.Test, e.Detail)
	}
	return fmt.Sprintf("spec %q action %d (id %d): %s", e.Test, e.Position, e.ActionID, e.Detail)
}

func (e *SpecError) Unwrap() error {
	return ErrSpecValidation
}

// NewSpecError creates a spec error scoped to one action.
func NewSpecError(test string, position, actionID int, format string, args ...interface{}) *SpecError {
	return &SpecError{
		Test:     test,
		ActionID: actionID,
		Position: position,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// NewSpecFileError creates a spec error not tied to a particular action.
func NewSpecFileError(test, format string, args ...interface{}) *SpecError {
	return &SpecError{Test: test, Position: -1, Detail: fmt.Sprintf(format, args...)}
}

// VariableError reports a placeholder left unresolved after substitution.
type VariableError struct {
	Name   string
	DataID string
}

func (e *VariableError) Error() string {
	if e.DataID != "" {
		return fmt.Sprintf("variable %q unresolved in data %q", e.Name, e.DataID)
	}
	return fmt.Sprintf("variable %q unresolved", e.Name)
}

func (e *VariableError) Unwrap() error {
	return ErrUndefinedVariable
}

// DataError reports a data id that does not exist in any loaded store.
type DataError struct {
	DataID string
	File   string
}

func (e *DataError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("data id %q not found in %s", e.DataID, e.File)
	}
	return fmt.Sprintf("data id %q not found", e.DataID)
}

func (e *DataError) Unwrap() error {
	return ErrUndefinedData
}

// ReferenceCycleError reports a reference chain that loops back on itself.
// Chain holds the ids in traversal order, ending at the repeated id.
type ReferenceCycleError struct {
	Chain []string
}

func (e *ReferenceCycleError) Error() string {
	return "reference cycle: " + strings.Join(e.Chain, " -> ")
}

func (e *ReferenceCycleError) Unwrap() error {
	return ErrCircularReference
}

// DeviceError reports an adapter-level failure for a named device.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError wraps an adapter failure with device context.
func NewDeviceError(device, op string, err error) *DeviceError {
	return &DeviceError{Device: device, Op: op, Err: err}
}

// TimingError reports a timing mark that has no matching start.
type TimingError struct {
	Storage string
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("end mark for %q has no prior start", e.Storage)
}

func (e *TimingError) Unwrap() error {
	return ErrTimingSequence
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
