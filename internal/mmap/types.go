package mmap

import "errors"

// AccessPattern is the paging hint passed to Open.
type AccessPattern int

const (
	// AccessDefault leaves read-ahead to the kernel. Blobs read once by a
	// snapshot import use it.
	AccessDefault AccessPattern = iota
	// AccessSequential favors aggressive read-ahead.
	AccessSequential
	// AccessRandom disables read-ahead for tree pages and matrix rows,
	// which are fetched by id.
	AccessRandom
)

var (
	// ErrClosed is returned by Slice after Close.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for files larger than the address space.
	ErrInvalidSize = errors.New("mmap: file too large to map")
	// ErrOutOfBounds is returned by Slice for ranges past the end.
	ErrOutOfBounds = errors.New("mmap: range out of bounds")
)
