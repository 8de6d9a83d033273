package mmap

import (
	"os"
	"sync/atomic"
)

// Mapping is a read-only view of a whole file.
type Mapping struct {
	data   []byte
	unmap  func([]byte) error
	closed atomic.Bool
}

// Open maps the file at path and applies the paging hint. Empty files
// yield an empty mapping without a system mapping behind it.
func Open(path string, pattern AccessPattern) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	switch {
	case size == 0:
		return &Mapping{}, nil
	case int64(int(size)) != size:
		return nil, ErrInvalidSize
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		return nil, err
	}
	m := &Mapping{data: data, unmap: unmap}
	if err := osAdvise(data, pattern); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// Size returns the mapped length in bytes.
func (m *Mapping) Size() int { return len(m.data) }

// Bytes returns the whole mapping, or nil after Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Slice returns the n bytes at off without copying. The result is capped
// so appends never write into the mapping.
func (m *Mapping) Slice(off, n int) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if off < 0 || n < 0 || off+n > len(m.data) {
		return nil, ErrOutOfBounds
	}
	return m.data[off : off+n : off+n], nil
}

// Close unmaps the file. Later calls are no-ops.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.data == nil {
		return nil
	}
	return m.unmap(m.data)
}
