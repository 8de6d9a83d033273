// Package mmap provides read-only memory-mapped file access.
//
// It backs the read-only page file view and the precomputed distance
// matrix, both of which are written once and then served by many readers.
//
//	m, err := mmap.Open("tree.pages", mmap.AccessRandom)
//	if err != nil { ... }
//	defer m.Close()
//
//	page, err := m.Slice(off, pageSize)
//
// Unix uses mmap(2) with madvise(2) hints. Windows uses
// CreateFileMapping/MapViewOfFile and ignores access hints.
//
// A Mapping is safe for concurrent reads. Close is idempotent, but callers
// must not touch slices obtained from Bytes or Slice after Close returns.
package mmap
