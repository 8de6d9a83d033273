package treeindex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/treeindex/index"
)

var (
	// ErrNotFound is returned for object ids the index does not hold.
	ErrNotFound = index.ErrNotFound

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = index.ErrInvalidK

	// ErrClosed is returned by operations on a closed Index.
	ErrClosed = errors.New("index closed")

	// ErrReadOnly is returned by mutations when the page file or the
	// relation cannot be written.
	ErrReadOnly = errors.New("index is read-only")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	return err
}
