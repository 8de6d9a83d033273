// Package rstar implements a paged R*-tree.
//
// Leaf entries hold an object id and its point; directory entries hold a
// child page and the minimum bounding box of everything below it. Node
// choice, splitting, overflow treatment and bulk partitioning are
// pluggable strategies.
//
// Writers (Insert, Delete, BulkLoad) are serialized by an exclusive lock;
// queries share a read lock and may run concurrently with each other.
package rstar
