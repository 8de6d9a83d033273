package mtree

import (
	"cmp"
	"context"
	"math"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/queue"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/query"
)

// subtree is a queued node: a lower bound on the distance from the query
// to anything in it, and the distance from the query to its routing object.
type subtree struct {
	page       pagefile.PageID
	lower      float64
	routing    float64
	hasRouting bool
}

func subtreeLess(a, b subtree) bool {
	return cmp.Or(cmp.Compare(a.lower, b.lower), cmp.Compare(a.page, b.page)) < 0
}

// skip reports whether e can be excluded by its parent distance alone.
func (s subtree) skip(e Entry, bound float64) bool {
	return s.hasRouting && exceeds(math.Abs(s.routing-e.ParentDist)-e.Radius, bound)
}

// KNN returns the k nearest objects to q by best-first search.
func (t *Tree) KNN(ctx context.Context, q []float64, k int) (*model.KNNList, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	if err := t.checkDim(q); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	knn := model.NewKNNHeap(k)
	pq := queue.New(subtreeLess)
	pq.Push(subtree{page: t.store.Root()})

	for pq.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, _ := pq.Pop()
		if exceeds(item.lower, knn.KDistance()) {
			break
		}

		h, err := t.store.Pin(item.page)
		if err != nil {
			return nil, err
		}
		n := h.Value()
		for _, e := range n.Entries {
			kd := knn.KDistance()
			if item.skip(e, kd) {
				continue
			}
			d := t.dist.Distance(q, e.Key)
			if n.Leaf {
				knn.Insert(e.ID, d)
				continue
			}
			if lb := max(d-e.Radius, 0); !exceeds(lb, kd) {
				pq.Push(subtree{page: e.Child, lower: lb, routing: d, hasRouting: true})
			}
		}
		h.Release()
	}
	return knn.ToKNNList(), nil
}

// KNNByID returns the k nearest objects to the stored object id.
func (t *Tree) KNNByID(ctx context.Context, id model.DBID, k int) (*model.KNNList, error) {
	v, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.KNN(ctx, v, k)
}

// Range returns every object within radius of q, ascending by distance.
func (t *Tree) Range(ctx context.Context, q []float64, radius float64) (model.NeighborList, error) {
	if err := t.checkDim(q); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	var out model.NeighborList
	stack := []subtree{{page: t.store.Root()}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		h, err := t.store.Pin(item.page)
		if err != nil {
			return nil, err
		}
		n := h.Value()
		for _, e := range n.Entries {
			if item.skip(e, radius) {
				continue
			}
			d := t.dist.Distance(q, e.Key)
			if n.Leaf {
				if d <= radius {
					out = append(out, model.Neighbor{ID: e.ID, Distance: d})
				}
			} else if !exceeds(d-e.Radius, radius) {
				stack = append(stack, subtree{page: e.Child, routing: d, hasRouting: true})
			}
		}
		h.Release()
	}
	out.Sort()
	return out, nil
}

// RangeByID returns every object within radius of the stored object id.
func (t *Tree) RangeByID(ctx context.Context, id model.DBID, radius float64) (model.NeighborList, error) {
	v, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.Range(ctx, v, radius)
}

// BulkKNN computes the kNN lists of ids in parallel.
func (t *Tree) BulkKNN(ctx context.Context, ids []model.DBID, k int) (map[model.DBID]*model.KNNList, error) {
	return query.BulkKNN(ctx, t, ids, k)
}
