// Package index defines the error taxonomy and query interfaces shared by
// every index in this module.
//
// # Errors
//
// All failures surface as one of a small set of sentinels, usually wrapped
// in a *PageError or *ConfigError that carries context:
//
//   - ErrCorruptPage: a page payload failed structural validation
//   - ErrOutOfSpace: allocation failed on a bounded page file
//   - ErrInvalidConfiguration: capacity or fill parameters are infeasible
//   - ErrInvalidState: the operation is not valid in the current lifecycle state
//   - ErrUnsupportedOperation: the backing store or tree cannot do this
//   - ErrIOFailure: the underlying device failed
//
// Errors are never retried or repaired by this module. A tree that returned
// ErrCorruptPage should be treated as unusable.
//
// # Query Interfaces
//
//   - KNNQuery: exact k nearest neighbors with tie extension
//   - RangeQuery: all objects within a radius
//   - RKNNQuery: reverse k nearest neighbors
//   - BulkKNNQuery: kNN for many ids at once
//
// Implementations live in tree/rstar, tree/mtree, query and preprocess.
package index
