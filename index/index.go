package index

import (
	"context"

	"github.com/hupe1980/treeindex/model"
)

// KNNQuery answers exact k nearest neighbor queries.
type KNNQuery interface {
	// KNN returns the k nearest objects to q, extended by ties at the k-th distance.
	KNN(ctx context.Context, q []float64, k int) (*model.KNNList, error)

	// KNNByID returns the k nearest objects to the stored object id.
	// The object itself is part of its own result.
	KNNByID(ctx context.Context, id model.DBID, k int) (*model.KNNList, error)
}

// RangeQuery answers radius queries.
type RangeQuery interface {
	// Range returns every object within radius of q, ascending by distance.
	Range(ctx context.Context, q []float64, radius float64) (model.NeighborList, error)

	// RangeByID returns every object within radius of the stored object id.
	RangeByID(ctx context.Context, id model.DBID, radius float64) (model.NeighborList, error)
}

// RKNNQuery answers reverse k nearest neighbor queries.
type RKNNQuery interface {
	// RKNN returns every object that has id among its k nearest neighbors.
	RKNN(ctx context.Context, id model.DBID, k int) (model.NeighborList, error)
}

// BulkKNNQuery computes kNN lists for many ids.
type BulkKNNQuery interface {
	BulkKNN(ctx context.Context, ids []model.DBID, k int) (map[model.DBID]*model.KNNList, error)
}

// ValidateK returns ErrInvalidK if k is not positive.
func ValidateK(k int) error {
	if k < 1 {
		return ErrInvalidK
	}
	return nil
}
