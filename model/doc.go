// Package model defines the identity and result types shared by the page
// file, tree, query and preprocessing layers.
//
// # Identity Types
//
//   - DBID: dense object identifier (uint32) assigned by a relation
//   - DBIDs: compressed id set backed by a roaring bitmap
//
// # Result Types
//
//   - Neighbor: a (distance, id) pair
//   - NeighborList: ascending (distance, id) pairs, e.g. a range query result
//   - KNNList: immutable k nearest neighbor list that keeps every entry tied
//     with the k-th distance
//   - KNNHeap: bounded collector producing a KNNList
//
// Ordering is always by distance first and id second, so results are
// deterministic under distance ties.
package model
