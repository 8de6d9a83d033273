package query

import (
	"context"

	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/model"
)

// IDSource lists the ids of the stored objects.
type IDSource interface {
	IDs() *model.DBIDs
}

// LinearScan answers kNN and range queries by computing the distance to
// every object.
type LinearScan struct {
	dq   distance.Query
	ids  IDSource
	opts []Option
}

var (
	_ index.KNNQuery     = (*LinearScan)(nil)
	_ index.RangeQuery   = (*LinearScan)(nil)
	_ index.BulkKNNQuery = (*LinearScan)(nil)
)

// NewLinearScan creates a linear scan over the objects of ids.
func NewLinearScan(dq distance.Query, ids IDSource, optFns ...Option) *LinearScan {
	return &LinearScan{dq: dq, ids: ids, opts: optFns}
}

func (s *LinearScan) scan(ctx context.Context, fn func(id model.DBID) error) error {
	var err error
	i := 0
	s.ids.IDs().ForEach(func(id model.DBID) bool {
		if i++; i%1024 == 0 {
			if err = ctx.Err(); err != nil {
				return false
			}
		}
		err = fn(id)
		return err == nil
	})
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (s *LinearScan) knn(ctx context.Context, k int, dist func(id model.DBID) (float64, error)) (*model.KNNList, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	heap := model.NewKNNHeap(k)
	err := s.scan(ctx, func(id model.DBID) error {
		d, err := dist(id)
		if err != nil {
			return err
		}
		heap.Insert(id, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return heap.ToKNNList(), nil
}

func (s *LinearScan) rng(ctx context.Context, radius float64, dist func(id model.DBID) (float64, error)) (model.NeighborList, error) {
	var out model.NeighborList
	err := s.scan(ctx, func(id model.DBID) error {
		d, err := dist(id)
		if err != nil {
			return err
		}
		if d <= radius {
			out = append(out, model.Neighbor{ID: id, Distance: d})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Sort()
	return out, nil
}

// KNN returns the k nearest objects to q.
func (s *LinearScan) KNN(ctx context.Context, q []float64, k int) (*model.KNNList, error) {
	return s.knn(ctx, k, func(id model.DBID) (float64, error) {
		return s.dq.DistanceTo(q, id)
	})
}

// KNNByID returns the k nearest objects to the stored object id.
func (s *LinearScan) KNNByID(ctx context.Context, id model.DBID, k int) (*model.KNNList, error) {
	return s.knn(ctx, k, func(other model.DBID) (float64, error) {
		return s.dq.DistanceByID(id, other)
	})
}

// Range returns every object within radius of q.
func (s *LinearScan) Range(ctx context.Context, q []float64, radius float64) (model.NeighborList, error) {
	return s.rng(ctx, radius, func(id model.DBID) (float64, error) {
		return s.dq.DistanceTo(q, id)
	})
}

// RangeByID returns every object within radius of the stored object id.
func (s *LinearScan) RangeByID(ctx context.Context, id model.DBID, radius float64) (model.NeighborList, error) {
	return s.rng(ctx, radius, func(other model.DBID) (float64, error) {
		return s.dq.DistanceByID(id, other)
	})
}

// BulkKNN computes the kNN lists of ids in parallel.
func (s *LinearScan) BulkKNN(ctx context.Context, ids []model.DBID, k int) (map[model.DBID]*model.KNNList, error) {
	return BulkKNN(ctx, s, ids, k, s.opts...)
}
