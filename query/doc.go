// Package query provides brute-force kNN and range queries, the
// self-join reverse kNN fallback, and parallel bulk kNN.
//
// LinearScan is exact for any distance, metric or not, and serves as the
// reference the tree indexes are tested against. SelfJoinRKNN computes a
// kNN list for every candidate, so a single reverse query costs O(n) kNN
// queries; attach a materialized preprocessor where RkNN queries matter.
package query
