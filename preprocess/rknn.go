package preprocess

import (
	"context"
	"fmt"

	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/relation"
)

// MaterializeKNNAndRKNN additionally keeps, for every object x, the set of
// objects y with x in kNN(y).
type MaterializeKNNAndRKNN struct {
	*MaterializeKNN
}

// NewMaterializeKNNAndRKNN creates a kNN and reverse kNN preprocessor.
func NewMaterializeKNNAndRKNN(rel relation.Relation, knnq index.KNNQuery, dq distance.Query, k int, optFns ...Option) (*MaterializeKNNAndRKNN, error) {
	p, err := newMaterializer(rel, knnq, dq, k, true, optFns)
	if err != nil {
		return nil, err
	}
	return &MaterializeKNNAndRKNN{MaterializeKNN: p}, nil
}

// RKNN returns the objects holding id in their kNN list with their
// distance to id, ascending by (distance, id).
func (p *MaterializeKNNAndRKNN) RKNN(id model.DBID) (model.NeighborList, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.ready {
		return nil, fmt.Errorf("%w: preprocessor has not run", index.ErrInvalidState)
	}
	if _, ok := p.knn[id]; !ok {
		return nil, fmt.Errorf("object %d: %w", id, index.ErrNotFound)
	}
	m := p.rknn[id]
	out := make(model.NeighborList, 0, len(m))
	for holder, d := range m {
		out = append(out, model.Neighbor{ID: holder, Distance: d})
	}
	out.Sort()
	return out, nil
}

// RKNNQuery answers reverse kNN queries from the materialized sets for any
// k up to the materialized k.
type RKNNQuery struct {
	p *MaterializeKNNAndRKNN
}

var _ index.RKNNQuery = (*RKNNQuery)(nil)

// RKNNQuery returns a reverse kNN query backed by p.
func (p *MaterializeKNNAndRKNN) RKNNQuery() *RKNNQuery {
	return &RKNNQuery{p: p}
}

// RKNN returns every object y with id among its k nearest neighbors. It
// fails with index.ErrUnsupportedOperation if k exceeds the materialized k.
func (q *RKNNQuery) RKNN(ctx context.Context, id model.DBID, k int) (model.NeighborList, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	if k > q.p.k {
		return nil, fmt.Errorf("%w: k=%d exceeds the materialized k=%d", index.ErrUnsupportedOperation, k, q.p.k)
	}
	all, err := q.p.RKNN(id)
	if err != nil || k == q.p.k {
		return all, err
	}

	q.p.mu.RLock()
	defer q.p.mu.RUnlock()
	out := all[:0]
	for _, n := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l, ok := q.p.knn[n.ID]; ok && l.Sub(k).Contains(id) {
			out = append(out, n)
		}
	}
	return out, nil
}
