package pagefile

import (
	"fmt"
	"sync"

	"github.com/hupe1980/treeindex/index"
)

// MemoryFile keeps pages in memory.
type MemoryFile struct {
	mu       sync.Mutex
	pageSize int
	maxPages int
	pages    map[PageID][]byte
	free     []PageID
	next     PageID
	closed   bool
	counters ioCounters
}

var _ PageFile = (*MemoryFile)(nil)

// NewMemoryFile creates an empty in-memory page file.
func NewMemoryFile(optFns ...Option) (*MemoryFile, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.pageSize == 0 {
		o.pageSize = DefaultPageSize
	}
	if err := validatePageSize(o.pageSize); err != nil {
		return nil, err
	}

	return &MemoryFile{
		pageSize: o.pageSize,
		maxPages: o.maxPages,
		pages:    make(map[PageID][]byte),
	}, nil
}

func (f *MemoryFile) PageSize() int    { return f.pageSize }
func (f *MemoryFile) PayloadSize() int { return payloadSizeFor(f.pageSize) }
func (f *MemoryFile) Stats() IOStats   { return f.counters.snapshot() }

// NumPages returns the number of page slots ever allocated.
func (f *MemoryFile) NumPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.next)
}

// FreePages returns the recycled ids, next to be reused first.
func (f *MemoryFile) FreePages() ([]PageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errClosed("free pages")
	}
	ids := make([]PageID, len(f.free))
	for i, id := range f.free {
		ids[len(ids)-1-i] = id
	}
	return ids, nil
}

// Allocate returns a recycled page id if one is free, a new one otherwise.
// Recycled ids are reused in LIFO order.
func (f *MemoryFile) Allocate() (PageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return NoPage, errClosed("allocate")
	}

	var id PageID
	if n := len(f.free); n > 0 {
		id = f.free[n-1]
		f.free = f.free[:n-1]
	} else {
		if f.maxPages > 0 && int(f.next) >= f.maxPages {
			return NoPage, &index.PageError{
				Op:   "allocate",
				Page: uint32(f.next),
				Kind: index.ErrOutOfSpace,
				Err:  fmt.Errorf("limit of %d pages reached", f.maxPages),
			}
		}
		id = f.next
		f.next++
	}

	f.pages[id] = make([]byte, f.PayloadSize())
	f.counters.allocs.Add(1)
	return id, nil
}

// Read returns a copy of the payload of id.
func (f *MemoryFile) Read(id PageID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errClosed("read")
	}

	p, ok := f.pages[id]
	if !ok {
		return nil, index.NewCorruptPageError("read", uint32(id), "page is not allocated")
	}
	f.counters.reads.Add(1)
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// Write stores a copy of payload.
func (f *MemoryFile) Write(id PageID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed("write")
	}
	if err := checkPayload("write", id, payload, f.PayloadSize()); err != nil {
		return err
	}

	p, ok := f.pages[id]
	if !ok {
		return index.NewCorruptPageError("write", uint32(id), "page is not allocated")
	}
	n := copy(p, payload)
	clear(p[n:])
	f.counters.writes.Add(1)
	return nil
}

// Free releases id for reuse.
func (f *MemoryFile) Free(id PageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed("free")
	}

	if _, ok := f.pages[id]; !ok {
		return index.NewCorruptPageError("free", uint32(id), "page is not allocated")
	}
	delete(f.pages, id)
	f.free = append(f.free, id)
	f.counters.frees.Add(1)
	return nil
}

func (f *MemoryFile) Sync() error { return nil }

// Close drops all pages.
func (f *MemoryFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.pages = nil
	f.free = nil
	return nil
}

func errClosed(op string) error {
	return &index.PageError{Op: op, Page: uint32(NoPage), Kind: index.ErrInvalidState, Err: fmt.Errorf("page file is closed")}
}
