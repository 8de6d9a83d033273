package query

import (
	"context"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/model"
)

// SelfJoinRKNN answers reverse kNN queries by computing the kNN list of
// every candidate and keeping those that contain the query object. It is
// the degraded path for indexes without materialized reverse neighbors.
type SelfJoinRKNN struct {
	knn  index.KNNQuery
	ids  IDSource
	opts []Option
}

var _ index.RKNNQuery = (*SelfJoinRKNN)(nil)

// NewSelfJoinRKNN creates a self-join reverse kNN query.
func NewSelfJoinRKNN(knn index.KNNQuery, ids IDSource, optFns ...Option) *SelfJoinRKNN {
	return &SelfJoinRKNN{knn: knn, ids: ids, opts: optFns}
}

// RKNN returns every object y with id among the k nearest neighbors of y,
// with the distance from y to id, ascending.
func (r *SelfJoinRKNN) RKNN(ctx context.Context, id model.DBID, k int) (model.NeighborList, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	candidates := r.ids.IDs().Slice()
	lists, err := BulkKNN(ctx, r.knn, candidates, k, r.opts...)
	if err != nil {
		return nil, err
	}

	var out model.NeighborList
	for _, c := range candidates {
		if d, ok := lists[c].DistanceOf(id); ok {
			out = append(out, model.Neighbor{ID: c, Distance: d})
		}
	}
	out.Sort()
	return out, nil
}
