package pagefile

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/hupe1980/treeindex/index"
)

// PageID identifies a page within a page file.
type PageID uint32

// NoPage marks an absent page reference.
const NoPage PageID = math.MaxUint32

// String returns a string representation of the PageID.
func (id PageID) String() string {
	if id == NoPage {
		return "page(none)"
	}
	return fmt.Sprintf("page(%d)", uint32(id))
}

const (
	// DefaultPageSize is the page size used when none is configured.
	DefaultPageSize = 4096

	// MinPageSize is the smallest supported page size.
	MinPageSize = 64

	// MaxPageSize is the largest supported page size.
	MaxPageSize = 1 << 20

	checksumSize = 4
)

// PageFile stores fixed-size pages.
//
// An id returned by Allocate is unique until it is passed to Free. Freeing
// a page that is still referenced is a caller bug.
type PageFile interface {
	// Allocate returns a fresh or recycled page id.
	Allocate() (PageID, error)

	// Read returns the payload of id. The result has length PayloadSize.
	Read(id PageID) ([]byte, error)

	// Write stores payload, which must not exceed PayloadSize, as page id.
	Write(id PageID, payload []byte) error

	// Free returns id to the free list.
	Free(id PageID) error

	// PageSize returns the physical page size in bytes.
	PageSize() int

	// PayloadSize returns the usable bytes per page.
	PayloadSize() int

	// NumPages returns the number of page slots ever allocated.
	NumPages() int

	// FreePages returns the freed ids in the order Allocate would reuse them.
	FreePages() ([]PageID, error)

	Sync() error
	Close() error
	Stats() IOStats
}

// IsReadOnly reports whether f rejects every modification.
func IsReadOnly(f PageFile) bool {
	ro, ok := f.(interface{ ReadOnly() bool })
	return ok && ro.ReadOnly()
}

// IOStats counts page file operations.
type IOStats struct {
	Reads       uint64
	Writes      uint64
	Allocations uint64
	Frees       uint64
}

type ioCounters struct {
	reads, writes, allocs, frees atomic.Uint64
}

func (c *ioCounters) snapshot() IOStats {
	return IOStats{
		Reads:       c.reads.Load(),
		Writes:      c.writes.Load(),
		Allocations: c.allocs.Load(),
		Frees:       c.frees.Load(),
	}
}

// walkFreeChain follows an on-disk free chain starting at head.
func walkFreeChain(head PageID, numPages uint32, read func(PageID) ([]byte, error)) ([]PageID, error) {
	var ids []PageID
	for id := head; id != NoPage; {
		if uint32(len(ids)) >= numPages {
			return nil, index.NewCorruptPageError("free pages", uint32(id), "free chain has a cycle")
		}
		payload, err := read(id)
		if err != nil {
			return nil, err
		}
		next, ok := decodeFreePage(payload)
		if !ok {
			return nil, index.NewCorruptPageError("free pages", uint32(id), "free chain entry is not a free page")
		}
		ids = append(ids, id)
		id = next
	}
	return ids, nil
}

func payloadSizeFor(pageSize int) int {
	return pageSize - checksumSize
}

func validatePageSize(pageSize int) error {
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return &index.ConfigError{
			Field:  "PageSize",
			Value:  pageSize,
			Reason: fmt.Sprintf("must be within [%d, %d]", MinPageSize, MaxPageSize),
		}
	}
	return nil
}

func checkPayload(op string, id PageID, payload []byte, max int) error {
	if len(payload) > max {
		return &index.PageError{
			Op:   op,
			Page: uint32(id),
			Kind: index.ErrInvalidState,
			Err:  fmt.Errorf("payload of %d bytes exceeds %d", len(payload), max),
		}
	}
	return nil
}
