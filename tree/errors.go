package tree

import (
	"fmt"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/pagefile"
)

// FillError reports a node outside [Min, Max] entries.
type FillError struct {
	Page    pagefile.PageID
	Entries int
	Min     int
	Max     int
}

// Error returns the error message.
func (e *FillError) Error() string {
	return fmt.Sprintf("%v holds %d entries, want [%d, %d]", e.Page, e.Entries, e.Min, e.Max)
}

// Unwrap returns index.ErrInvalidState.
func (e *FillError) Unwrap() error { return index.ErrInvalidState }

// InvariantError reports a broken structural invariant found by a validation walk.
type InvariantError struct {
	Page   pagefile.PageID
	Reason string
}

// Error returns the error message.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v: %s", e.Page, e.Reason)
}

// Unwrap returns index.ErrInvalidState.
func (e *InvariantError) Unwrap() error { return index.ErrInvalidState }
