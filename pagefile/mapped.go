package pagefile

import (
	"fmt"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/mmap"
)

// MappedFile is a read-only memory-mapped view of a closed DiskFile.
// Allocate, Write and Free fail with index.ErrUnsupportedOperation.
type MappedFile struct {
	m        *mmap.Mapping
	hdr      fileHeader
	counters ioCounters
}

var _ PageFile = (*MappedFile)(nil)

// OpenMappedFile maps the page file at path.
func OpenMappedFile(path string) (*MappedFile, error) {
	m, err := mmap.Open(path, mmap.AccessRandom)
	if err != nil {
		return nil, fmt.Errorf("%w: map %s: %w", index.ErrIOFailure, path, err)
	}

	raw, err := m.Slice(0, headerSize)
	if err != nil {
		_ = m.Close()
		return nil, index.NewCorruptPageError("open", uint32(NoPage), "file header truncated")
	}
	hdr, err := decodeHeader(raw)
	if err != nil {
		_ = m.Close()
		return nil, index.NewCorruptPageError("open", uint32(NoPage), "%v", err)
	}
	if want := pageOffset(PageID(hdr.NumPages), int(hdr.PageSize)); int64(m.Size()) < want {
		_ = m.Close()
		return nil, index.NewCorruptPageError("open", uint32(NoPage), "file of %d bytes holds fewer than %d pages", m.Size(), hdr.NumPages)
	}

	return &MappedFile{m: m, hdr: hdr}, nil
}

func (f *MappedFile) PageSize() int    { return int(f.hdr.PageSize) }
func (f *MappedFile) PayloadSize() int { return payloadSizeFor(int(f.hdr.PageSize)) }
func (f *MappedFile) NumPages() int    { return int(f.hdr.NumPages) }
func (f *MappedFile) Stats() IOStats   { return f.counters.snapshot() }

// Read returns the payload of id without copying. The slice is valid until
// Close and must not be modified.
func (f *MappedFile) Read(id PageID) ([]byte, error) {
	if uint32(id) >= f.hdr.NumPages {
		return nil, index.NewCorruptPageError("read", uint32(id), "page is not allocated")
	}
	page, err := f.m.Slice(int(pageOffset(id, int(f.hdr.PageSize))), int(f.hdr.PageSize))
	if err != nil {
		return nil, index.NewIOError("read", uint32(id), err)
	}
	f.counters.reads.Add(1)

	payload, ok := verifyPage(page)
	if !ok {
		return nil, index.NewCorruptPageError("read", uint32(id), "checksum mismatch")
	}
	return payload, nil
}

// FreePages walks the free chain recorded in the mapped image.
func (f *MappedFile) FreePages() ([]PageID, error) {
	return walkFreeChain(f.hdr.FreeHead, f.hdr.NumPages, f.Read)
}

func (f *MappedFile) Allocate() (PageID, error) {
	return NoPage, errReadOnly("allocate", NoPage)
}

func (f *MappedFile) Write(id PageID, _ []byte) error {
	return errReadOnly("write", id)
}

func (f *MappedFile) Free(id PageID) error {
	return errReadOnly("free", id)
}

func (f *MappedFile) Sync() error { return nil }

// ReadOnly reports true.
func (f *MappedFile) ReadOnly() bool { return true }

// Close unmaps the file. It is idempotent.
func (f *MappedFile) Close() error {
	return f.m.Close()
}

func errReadOnly(op string, id PageID) error {
	return &index.PageError{Op: op, Page: uint32(id), Kind: index.ErrUnsupportedOperation, Err: fmt.Errorf("mapped page file is read-only")}
}
