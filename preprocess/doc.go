// Package preprocess materializes the k nearest neighbors, and optionally
// the reverse k nearest neighbors, of every object of a relation and keeps
// them current as objects are inserted and removed.
//
// A preprocessor relies on a kNN query that already reflects a change when
// it is notified of it. Subscribe the index to the relation before calling
// Attach on the preprocessor.
package preprocess
