package pagefile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/fs"
)

// DiskFile stores pages in a single file.
type DiskFile struct {
	mu       sync.Mutex
	path     string
	file     fs.File
	hdr      fileHeader
	dirty    bool
	closed   bool
	logger   *slog.Logger
	counters ioCounters
}

var _ PageFile = (*DiskFile)(nil)

// OpenDiskFile opens the page file at path, creating it if it does not exist.
// An existing file is validated; a bad header fails with index.ErrCorruptPage.
func OpenDiskFile(path string, optFns ...Option) (*DiskFile, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.pageSize != 0 {
		if err := validatePageSize(o.pageSize); err != nil {
			return nil, err
		}
	}

	f, err := o.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", index.ErrIOFailure, path, err)
	}

	d := &DiskFile{path: path, file: f, logger: o.logger}

	size, err := fs.Size(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", index.ErrIOFailure, path, err)
	}

	if size == 0 {
		pageSize := o.pageSize
		if pageSize == 0 {
			pageSize = DefaultPageSize
		}
		d.hdr = fileHeader{PageSize: uint32(pageSize), MaxPages: uint32(o.maxPages), FreeHead: NoPage}
		if err := d.writeHeader(); err != nil {
			_ = f.Close()
			return nil, err
		}
		d.logger.Debug("created page file", "path", path, "page_size", pageSize)
		return d, nil
	}

	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return nil, index.NewCorruptPageError("open", uint32(NoPage), "file header truncated")
		}
		return nil, fmt.Errorf("%w: read header of %s: %w", index.ErrIOFailure, path, err)
	}

	hdr, err := decodeHeader(buf)
	if err != nil {
		_ = f.Close()
		return nil, index.NewCorruptPageError("open", uint32(NoPage), "%v", err)
	}
	if o.pageSize != 0 && int(hdr.PageSize) != o.pageSize {
		_ = f.Close()
		return nil, index.NewCorruptPageError("open", uint32(NoPage), "page size %d does not match configured %d", hdr.PageSize, o.pageSize)
	}
	if o.maxPages != 0 && uint32(o.maxPages) != hdr.MaxPages {
		hdr.MaxPages = uint32(o.maxPages)
		d.dirty = true
	}

	d.hdr = hdr
	d.logger.Debug("opened page file", "path", path, "page_size", hdr.PageSize, "pages", hdr.NumPages)
	return d, nil
}

func (d *DiskFile) PageSize() int    { return int(d.hdr.PageSize) }
func (d *DiskFile) PayloadSize() int { return payloadSizeFor(int(d.hdr.PageSize)) }
func (d *DiskFile) Stats() IOStats   { return d.counters.snapshot() }

// Path returns the file path.
func (d *DiskFile) Path() string { return d.path }

// NumPages returns the number of page slots ever allocated.
func (d *DiskFile) NumPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.hdr.NumPages)
}

func (d *DiskFile) writeHeader() error {
	buf := make([]byte, d.hdr.PageSize)
	d.hdr.encode(buf)
	if _, err := d.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: write header of %s: %w", index.ErrIOFailure, d.path, err)
	}
	d.dirty = false
	return nil
}

func (d *DiskFile) readPage(op string, id PageID) ([]byte, error) {
	if uint32(id) >= d.hdr.NumPages {
		return nil, index.NewCorruptPageError(op, uint32(id), "page is not allocated")
	}
	page := make([]byte, d.hdr.PageSize)
	if _, err := d.file.ReadAt(page, pageOffset(id, int(d.hdr.PageSize))); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, index.NewCorruptPageError(op, uint32(id), "short page")
		}
		return nil, index.NewIOError(op, uint32(id), err)
	}
	d.counters.reads.Add(1)

	payload, ok := verifyPage(page)
	if !ok {
		return nil, index.NewCorruptPageError(op, uint32(id), "checksum mismatch")
	}
	return payload, nil
}

func (d *DiskFile) writePage(op string, id PageID, payload []byte) error {
	page := make([]byte, d.hdr.PageSize)
	sealPage(page, payload)
	if _, err := d.file.WriteAt(page, pageOffset(id, int(d.hdr.PageSize))); err != nil {
		return index.NewIOError(op, uint32(id), err)
	}
	d.counters.writes.Add(1)
	return nil
}

// Allocate pops the free chain or extends the file.
func (d *DiskFile) Allocate() (PageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return NoPage, errClosed("allocate")
	}

	if head := d.hdr.FreeHead; head != NoPage {
		payload, err := d.readPage("allocate", head)
		if err != nil {
			return NoPage, err
		}
		next, ok := decodeFreePage(payload)
		if !ok {
			return NoPage, index.NewCorruptPageError("allocate", uint32(head), "free chain entry is not a free page")
		}
		if err := d.writePage("allocate", head, nil); err != nil {
			return NoPage, err
		}
		d.hdr.FreeHead = next
		d.dirty = true
		d.counters.allocs.Add(1)
		return head, nil
	}

	if d.hdr.MaxPages > 0 && d.hdr.NumPages >= d.hdr.MaxPages {
		return NoPage, &index.PageError{
			Op:   "allocate",
			Page: d.hdr.NumPages,
			Kind: index.ErrOutOfSpace,
			Err:  fmt.Errorf("limit of %d pages reached", d.hdr.MaxPages),
		}
	}
	if d.hdr.NumPages == uint32(NoPage) {
		return NoPage, &index.PageError{Op: "allocate", Page: d.hdr.NumPages, Kind: index.ErrOutOfSpace}
	}

	id := PageID(d.hdr.NumPages)
	if err := d.writePage("allocate", id, nil); err != nil {
		return NoPage, err
	}
	d.hdr.NumPages++
	d.dirty = true
	d.counters.allocs.Add(1)
	return id, nil
}

// FreePages walks the free chain.
func (d *DiskFile) FreePages() ([]PageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed("free pages")
	}
	return walkFreeChain(d.hdr.FreeHead, d.hdr.NumPages, func(id PageID) ([]byte, error) {
		return d.readPage("free pages", id)
	})
}

// Read returns the payload of id after verifying its checksum.
func (d *DiskFile) Read(id PageID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed("read")
	}
	return d.readPage("read", id)
}

// Write stores payload as page id.
func (d *DiskFile) Write(id PageID, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed("write")
	}
	if err := checkPayload("write", id, payload, d.PayloadSize()); err != nil {
		return err
	}
	if uint32(id) >= d.hdr.NumPages {
		return index.NewCorruptPageError("write", uint32(id), "page is not allocated")
	}
	return d.writePage("write", id, payload)
}

// Free pushes id onto the on-disk free chain.
func (d *DiskFile) Free(id PageID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed("free")
	}
	if uint32(id) >= d.hdr.NumPages {
		return index.NewCorruptPageError("free", uint32(id), "page is not allocated")
	}

	if err := d.writePage("free", id, encodeFreePage(d.hdr.FreeHead)); err != nil {
		return err
	}
	d.hdr.FreeHead = id
	d.dirty = true
	d.counters.frees.Add(1)
	return nil
}

// Sync persists the header and flushes the file.
func (d *DiskFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed("sync")
	}
	return d.syncLocked()
}

func (d *DiskFile) syncLocked() error {
	if d.dirty {
		if err := d.writeHeader(); err != nil {
			return err
		}
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", index.ErrIOFailure, d.path, err)
	}
	return nil
}

// Close syncs and closes the file. It is idempotent.
func (d *DiskFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	syncErr := d.syncLocked()
	if err := d.file.Close(); err != nil && syncErr == nil {
		return fmt.Errorf("%w: close %s: %w", index.ErrIOFailure, d.path, err)
	}
	return syncErr
}
