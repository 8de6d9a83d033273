package rstar

import (
	"cmp"
	"context"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/queue"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/query"
)

type nodeDist struct {
	page pagefile.PageID
	dist float64
}

func nodeDistLess(a, b nodeDist) bool {
	return cmp.Or(cmp.Compare(a.dist, b.dist), cmp.Compare(a.page, b.page)) < 0
}

// KNN returns the k nearest objects to q by best-first search. Subtrees
// whose minimum distance exceeds the current k-th distance are pruned;
// subtrees at exactly that distance are still visited so that ties are
// complete.
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
	pq := queue.New(nodeDistLess)
	pq.Push(nodeDist{page: t.store.Root()})

	for pq.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, _ := pq.Pop()
		if item.dist > knn.KDistance() {
			break
		}

		h, err := t.store.Pin(item.page)
		if err != nil {
			return nil, err
		}
		n := h.Value()
		if n.Leaf {
			for _, e := range n.Entries {
				knn.Insert(e.ID, t.dist.Distance(q, e.Point()))
			}
		} else {
			kd := knn.KDistance()
			for _, e := range n.Entries {
				if d := t.dist.MinDist(q, e.Box); d <= kd {
					pq.Push(nodeDist{page: e.Child, dist: d})
				}
			}
		}
		h.Release()
	}
	return knn.ToKNNList(), nil
}

// KNNByID returns the k nearest objects to the stored object id.
func (t *Tree) KNNByID(ctx context.Context, id model.DBID, k int) (*model.KNNList, error) {
	p, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.KNN(ctx, p, k)
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
	stack := []pagefile.PageID{t.store.Root()}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		h, err := t.store.Pin(page)
		if err != nil {
			return nil, err
		}
		n := h.Value()
		for _, e := range n.Entries {
			if n.Leaf {
				if d := t.dist.Distance(q, e.Point()); d <= radius {
					out = append(out, model.Neighbor{ID: e.ID, Distance: d})
				}
			} else if t.dist.MinDist(q, e.Box) <= radius {
				stack = append(stack, e.Child)
			}
		}
		h.Release()
	}
	out.Sort()
	return out, nil
}

// RangeByID returns every object within radius of the stored object id.
func (t *Tree) RangeByID(ctx context.Context, id model.DBID, radius float64) (model.NeighborList, error) {
	p, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.Range(ctx, p, radius)
}

// BulkKNN computes the kNN lists of ids in parallel.
func (t *Tree) BulkKNN(ctx context.Context, ids []model.DBID, k int) (map[model.DBID]*model.KNNList, error) {
	return query.BulkKNN(ctx, t, ids, k)
}
