// Package blobstore abstracts the object stores that hold page-file
// snapshots.
//
// A snapshot is a set of immutable blobs plus the CURRENT blob, which names
// the latest committed snapshot. Stores that offer an atomic conditional
// write (see blobstore/s3.DDBCommitStore) make the CURRENT update safe for
// concurrent writers.
//
// # Implementations
//
//   - MemoryStore: in-process map, for tests
//   - LocalStore: local directory, mmap reads, rename-on-close writes
//   - s3.Store and s3.DDBCommitStore: Amazon S3, optionally with DynamoDB commits
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
