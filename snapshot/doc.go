// Package snapshot copies page files to and from a blob store.
//
// A snapshot called name consists of two blobs:
//
//	name/pages.bin      compressed page frames, one per allocated page
//	name/manifest.json  page size, free list, frame offsets and checksums
//
// Export writes both and then updates the CURRENT blob. Import recreates the
// page file in an empty target, including its free list, so a tree opened on
// the target sees the same page ids. Traffic can be throttled with an IO
// limit.
package snapshot
