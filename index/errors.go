package index

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptPage is returned when a page payload fails validation.
	ErrCorruptPage = errors.New("corrupt page")

	// ErrOutOfSpace is returned when a bounded page file cannot allocate.
	ErrOutOfSpace = errors.New("out of space")

	// ErrInvalidConfiguration is returned for infeasible tree parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidState is returned when an operation does not fit the lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnsupportedOperation is returned for operations a component does not support.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrIOFailure wraps device read/write errors.
	ErrIOFailure = errors.New("io failure")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNotFound is returned when an object id is unknown.
	ErrNotFound = errors.New("not found")
)

// PageError describes a failure on a specific page.
type PageError struct {
	Op   string // Operation, e.g. "read", "write", "allocate"
	Page uint32 // Page id
	Kind error  // One of the sentinels above
	Err  error  // Underlying cause, may be nil
}

// Error returns the error message.
func (e *PageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("page %d: %s: %v", e.Page, e.Op, e.Kind)
	}
	return fmt.Sprintf("page %d: %s: %v: %v", e.Page, e.Op, e.Kind, e.Err)
}

// Unwrap returns both the kind and the cause.
func (e *PageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewCorruptPageError creates a PageError of kind ErrCorruptPage.
func NewCorruptPageError(op string, page uint32, format string, args ...any) error {
	return &PageError{Op: op, Page: page, Kind: ErrCorruptPage, Err: fmt.Errorf(format, args...)}
}

// NewIOError creates a PageError of kind ErrIOFailure wrapping err.
func NewIOError(op string, page uint32, err error) error {
	return &PageError{Op: op, Page: page, Kind: ErrIOFailure, Err: err}
}

// ConfigError describes an infeasible configuration value.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap returns ErrInvalidConfiguration.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Unwrap returns ErrUnsupportedOperation: a tree's dimensionality is fixed.
func (e *ErrDimensionMismatch) Unwrap() error { return ErrUnsupportedOperation }
