package distance

import (
	"fmt"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/model"
)

// ObjectSource resolves object ids to vectors.
type ObjectSource interface {
	Get(id model.DBID) ([]float64, bool)
}

// Query computes distances between stored objects and from query vectors
// to stored objects.
type Query interface {
	DistanceByID(a, b model.DBID) (float64, error)
	DistanceTo(q []float64, id model.DBID) (float64, error)
}

// VectorQuery evaluates a Func over the vectors of an ObjectSource.
type VectorQuery struct {
	src ObjectSource
	fn  Func
}

// NewVectorQuery creates a distance query over src.
func NewVectorQuery(src ObjectSource, fn Func) *VectorQuery {
	return &VectorQuery{src: src, fn: fn}
}

// Func returns the underlying distance function.
func (q *VectorQuery) Func() Func { return q.fn }

// DistanceByID returns the distance between two stored objects.
func (q *VectorQuery) DistanceByID(a, b model.DBID) (float64, error) {
	va, err := q.get(a)
	if err != nil {
		return 0, err
	}
	vb, err := q.get(b)
	if err != nil {
		return 0, err
	}
	return q.fn.Distance(va, vb), nil
}

// DistanceTo returns the distance between v and a stored object.
func (q *VectorQuery) DistanceTo(v []float64, id model.DBID) (float64, error) {
	o, err := q.get(id)
	if err != nil {
		return 0, err
	}
	return q.fn.Distance(v, o), nil
}

func (q *VectorQuery) get(id model.DBID) ([]float64, error) {
	v, ok := q.src.Get(id)
	if !ok {
		return nil, fmt.Errorf("object %d: %w", id, index.ErrNotFound)
	}
	return v, nil
}
