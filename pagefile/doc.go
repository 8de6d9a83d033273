// Package pagefile provides fixed-size page storage and the page cache that
// every tree operation goes through.
//
// # Page Files
//
//   - MemoryFile: map-backed pages, unbounded unless WithMaxPages is set
//   - DiskFile: a single file with a header page and CRC32-protected pages;
//     freed pages form an on-disk chain and are reused by Allocate
//   - MappedFile: a read-only memory-mapped view of a DiskFile image
//
// All implementations expose the same PayloadSize, so a tree has the same
// node capacity regardless of where its pages live.
//
// # Disk Layout
//
//	offset 0:                 header page
//	                          [magic u32][version u16][reserved u16][pageSize u32]
//	                          [maxPages u32][numPages u32][freeHead u32][crc32 u32]
//	offset (id+1)*pageSize:   page id
//	                          [crc32 u32][payload]
//
// A freed page carries [freeMarker u32][next u32] in its payload.
//
// # Page Cache
//
// Cache[T] holds decoded pages. Every access pins a frame and must release
// it on all paths:
//
//	h, err := c.Pin(id)
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//
// Pinned frames are never evicted. When a page must be materialized and the
// cache is full, the least recently used unpinned frame is written back if
// dirty and evicted. If every frame is pinned, the cache grows beyond its
// capacity and shrinks back on later misses. Hit, miss, eviction and
// write-back counters are deterministic for a given access sequence.
//
// Device errors surface as index.ErrIOFailure and are never retried.
package pagefile
