package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/parallel"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/query"
	"github.com/hupe1980/treeindex/relation"
)

// MaterializeKNN holds the kNN list of every object of a relation.
//
// Batches (Preprocess, ObjectsInserted, ObjectsRemoved) are serialized.
// A batch computes its new lists first and installs them under one lock,
// so readers observe the state either before or after a batch.
type MaterializeKNN struct {
	rel    relation.Relation
	knnq   index.KNNQuery
	dq     distance.Query
	k      int
	opts   options
	logger *slog.Logger

	batch sync.Mutex

	mu    sync.RWMutex
	ready bool
	knn   map[model.DBID]*model.KNNList
	// rknn maps an object to the objects holding it in their kNN list,
	// with the distance. It is nil unless reverse neighbors are kept.
	rknn map[model.DBID]map[model.DBID]float64

	listenersMu sync.Mutex
	listeners   []KNNListener
}

var _ relation.Listener = (*MaterializeKNN)(nil)

// NewMaterializeKNN creates a kNN preprocessor over rel. knnq answers the
// kNN queries and dq the pairwise distances used for incremental updates;
// both must use the same distance function.
func NewMaterializeKNN(rel relation.Relation, knnq index.KNNQuery, dq distance.Query, k int, optFns ...Option) (*MaterializeKNN, error) {
	return newMaterializer(rel, knnq, dq, k, false, optFns)
}

func newMaterializer(rel relation.Relation, knnq index.KNNQuery, dq distance.Query, k int, reverse bool, optFns []Option) (*MaterializeKNN, error) {
	switch {
	case rel == nil:
		return nil, &index.ConfigError{Field: "Relation", Reason: "a relation is required"}
	case knnq == nil:
		return nil, &index.ConfigError{Field: "KNNQuery", Reason: "a kNN query is required"}
	case dq == nil:
		return nil, &index.ConfigError{Field: "DistanceQuery", Reason: "a distance query is required"}
	case k < 1:
		return nil, &index.ConfigError{Field: "K", Value: k, Reason: "must be positive"}
	}

	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	p := &MaterializeKNN{
		rel:    rel,
		knnq:   knnq,
		dq:     dq,
		k:      k,
		opts:   o,
		logger: o.logger,
		knn:    make(map[model.DBID]*model.KNNList),
	}
	if reverse {
		p.rknn = make(map[model.DBID]map[model.DBID]float64)
	}
	return p, nil
}

// K returns the materialized neighborhood size.
func (p *MaterializeKNN) K() int { return p.k }

// Attach subscribes p to insertions and removals of its relation.
func (p *MaterializeKNN) Attach() {
	p.rel.Subscribe(p)
}

// AddListener registers l for change events.
func (p *MaterializeKNN) AddListener(l KNNListener) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *MaterializeKNN) fire(ev KNNChangeEvent) {
	p.listenersMu.Lock()
	listeners := slices.Clone(p.listeners)
	p.listenersMu.Unlock()
	for _, l := range listeners {
		l.KNNsChanged(ev)
	}
}

// Preprocess computes the kNN list of every object, replacing anything
// materialized before.
func (p *MaterializeKNN) Preprocess(ctx context.Context) error {
	p.batch.Lock()
	defer p.batch.Unlock()
	return p.preprocess(ctx)
}

func (p *MaterializeKNN) preprocess(ctx context.Context) error {
	ids := p.rel.IDs().Slice()
	lists, err := query.BulkKNN(ctx, p.knnq, ids, p.k, p.opts.query()...)
	if err != nil {
		return fmt.Errorf("materialize knn: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.knn = lists
	if p.rknn != nil {
		p.rknn = make(map[model.DBID]map[model.DBID]float64, len(ids))
		for _, id := range ids {
			p.addReverseLocked(lists[id], id)
		}
	}
	p.ready = true
	p.logger.Info("materialized knn", "objects", len(ids), "k", p.k, "reverse", p.rknn != nil)
	return nil
}

// addReverseLocked records holder in the reverse sets of its neighbors.
func (p *MaterializeKNN) addReverseLocked(l *model.KNNList, holder model.DBID) {
	for i := 0; i < l.Len(); i++ {
		n := l.At(i)
		m := p.rknn[n.ID]
		if m == nil {
			m = make(map[model.DBID]float64)
			p.rknn[n.ID] = m
		}
		m[holder] = n.Distance
	}
}

// KNN returns the materialized kNN list of id.
func (p *MaterializeKNN) KNN(id model.DBID) (*model.KNNList, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.ready {
		return nil, fmt.Errorf("%w: preprocessor has not run", index.ErrInvalidState)
	}
	l, ok := p.knn[id]
	if !ok {
		return nil, fmt.Errorf("object %d: %w", id, index.ErrNotFound)
	}
	return l, nil
}

// KNNByID returns the k nearest neighbors of id from the materialized
// lists. k must not exceed K.
func (p *MaterializeKNN) KNNByID(_ context.Context, id model.DBID, k int) (*model.KNNList, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	if k > p.k {
		return nil, fmt.Errorf("%w: k=%d exceeds the materialized k=%d", index.ErrUnsupportedOperation, k, p.k)
	}
	l, err := p.KNN(id)
	if err != nil {
		return nil, err
	}
	return l.Sub(k), nil
}

// ObjectsInserted materializes the lists of ids and merges ids into the
// lists of existing objects they come close enough to.
func (p *MaterializeKNN) ObjectsInserted(ctx context.Context, ids *model.DBIDs) error {
	p.batch.Lock()
	defer p.batch.Unlock()

	if !p.isReady() {
		return p.preprocess(ctx)
	}
	added := ids.Slice()
	if len(added) == 0 {
		return nil
	}

	lists, err := query.BulkKNN(ctx, p.knnq, added, p.k, p.opts.query()...)
	if err != nil {
		return fmt.Errorf("knn of inserted objects: %w", err)
	}

	p.mu.RLock()
	old := make([]model.DBID, 0, len(p.knn))
	for id := range p.knn {
		if !ids.Contains(id) {
			old = append(old, id)
		}
	}
	slices.Sort(old)
	current := make([]*model.KNNList, len(old))
	for i, id := range old {
		current[i] = p.knn[id]
	}
	p.mu.RUnlock()

	merged := make([]*model.KNNList, len(old))
	err = parallel.For(ctx, len(old), func(ctx context.Context, b parallel.Block) error {
		for i := b.Start; i < b.End; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			kd := current[i].KDistance()
			var candidates []model.Neighbor
			for _, id := range added {
				d, err := p.dq.DistanceByID(old[i], id)
				if err != nil {
					return err
				}
				if d <= kd {
					candidates = append(candidates, model.Neighbor{ID: id, Distance: d})
				}
			}
			if len(candidates) > 0 {
				merged[i] = model.NewKNNList(p.k, append(current[i].Neighbors(), candidates...))
			}
		}
		return nil
	}, parallel.WithWorkers(p.opts.workers), parallel.WithController(p.opts.controller))
	if err != nil {
		return fmt.Errorf("update knn of existing objects: %w", err)
	}

	var updated []model.DBID
	p.mu.Lock()
	for _, id := range added {
		p.knn[id] = lists[id]
		if p.rknn != nil {
			p.addReverseLocked(lists[id], id)
		}
	}
	for i, id := range old {
		if merged[i] == nil {
			continue
		}
		if p.replaceLocked(id, current[i], merged[i]) {
			updated = append(updated, id)
		}
	}
	p.mu.Unlock()

	p.logger.Debug("applied insertions", "objects", len(added), "updated", len(updated))
	p.fire(KNNChangeEvent{Kind: ObjectsInserted, Objects: added, Updated: updated})
	return nil
}

// ObjectsRemoved drops the lists of ids and recomputes the lists that
// referenced them. The kNN query must no longer return removed ids.
func (p *MaterializeKNN) ObjectsRemoved(ctx context.Context, ids *model.DBIDs, _ map[model.DBID][]float64) error {
	p.batch.Lock()
	defer p.batch.Unlock()

	if !p.isReady() {
		return nil
	}
	removed := ids.Slice()
	if len(removed) == 0 {
		return nil
	}

	p.mu.RLock()
	affected := model.NewDBIDs()
	if p.rknn != nil {
		for _, r := range removed {
			for holder := range p.rknn[r] {
				affected.Add(holder)
			}
		}
	} else {
		for id, l := range p.knn {
			for _, r := range removed {
				if l.Contains(r) {
					affected.Add(id)
					break
				}
			}
		}
	}
	p.mu.RUnlock()
	affected.RemoveAll(ids)
	stale := affected.Slice()

	lists, err := query.BulkKNN(ctx, p.knnq, stale, p.k, p.opts.query()...)
	if err != nil {
		return fmt.Errorf("recompute knn after removal: %w", err)
	}

	var updated []model.DBID
	p.mu.Lock()
	for _, r := range removed {
		l, ok := p.knn[r]
		if !ok {
			continue
		}
		delete(p.knn, r)
		if p.rknn == nil {
			continue
		}
		delete(p.rknn, r)
		for i := 0; i < l.Len(); i++ {
			if m := p.rknn[l.At(i).ID]; m != nil {
				delete(m, r)
			}
		}
	}
	for _, id := range stale {
		if p.replaceLocked(id, p.knn[id], lists[id]) {
			updated = append(updated, id)
		}
	}
	p.mu.Unlock()

	p.logger.Debug("applied removals", "objects", len(removed), "updated", len(updated))
	p.fire(KNNChangeEvent{Kind: ObjectsRemoved, Objects: removed, Updated: updated})
	return nil
}

// replaceLocked installs next as the list of id and moves id between the
// reverse sets of the neighbors it lost and gained. It reports whether the
// list changed. p.mu must be held for writing.
func (p *MaterializeKNN) replaceLocked(id model.DBID, prev, next *model.KNNList) bool {
	gained, lost := diff(prev, next)

	p.knn[id] = next
	if p.rknn != nil {
		for _, n := range lost {
			if m := p.rknn[n.ID]; m != nil {
				delete(m, id)
			}
		}
		for _, n := range gained {
			m := p.rknn[n.ID]
			if m == nil {
				m = make(map[model.DBID]float64)
				p.rknn[n.ID] = m
			}
			m[id] = n.Distance
		}
	}
	return len(gained) > 0 || len(lost) > 0
}

// diff returns the pairs of next missing from prev and the pairs of prev
// missing from next.
func diff(prev, next *model.KNNList) (gained, lost []model.Neighbor) {
	before := make(map[model.Neighbor]struct{}, prev.Len())
	for i := 0; i < prev.Len(); i++ {
		before[prev.At(i)] = struct{}{}
	}
	after := make(map[model.Neighbor]struct{}, next.Len())
	for i := 0; i < next.Len(); i++ {
		n := next.At(i)
		after[n] = struct{}{}
		if _, ok := before[n]; !ok {
			gained = append(gained, n)
		}
	}
	for i := 0; i < prev.Len(); i++ {
		if _, ok := after[prev.At(i)]; !ok {
			lost = append(lost, prev.At(i))
		}
	}
	return gained, lost
}

func (p *MaterializeKNN) isReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// CheckInvariant verifies that every kNN list references materialized
// objects and, with reverse neighbors, that y is in RkNN(x) exactly when x
// is in kNN(y) at the same distance.
func (p *MaterializeKNN) CheckInvariant() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pairs := 0
	for y, l := range p.knn {
		for i := 0; i < l.Len(); i++ {
			n := l.At(i)
			if _, ok := p.knn[n.ID]; !ok {
				return fmt.Errorf("%w: kNN(%d) references unknown object %d", index.ErrInvalidState, y, n.ID)
			}
			if p.rknn == nil {
				continue
			}
			pairs++
			if d, ok := p.rknn[n.ID][y]; !ok || d != n.Distance {
				return fmt.Errorf("%w: %d in kNN(%d) but not in RkNN(%d)", index.ErrInvalidState, n.ID, y, n.ID)
			}
		}
	}
	if p.rknn == nil {
		return nil
	}

	reverse := 0
	for x, m := range p.rknn {
		if _, ok := p.knn[x]; !ok && len(m) > 0 {
			return fmt.Errorf("%w: reverse set of unknown object %d", index.ErrInvalidState, x)
		}
		reverse += len(m)
	}
	if reverse != pairs {
		return fmt.Errorf("%w: %d reverse pairs for %d kNN pairs", index.ErrInvalidState, reverse, pairs)
	}
	return nil
}
