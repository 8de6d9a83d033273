// Package relation provides an in-memory vector relation with stable object
// ids and change notification.
package relation

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/model"
)

// Listener is notified after objects were inserted into or removed from a relation.
// ObjectsRemoved also receives the vectors the removed objects held, keyed
// by id, since the relation no longer returns them.
type Listener interface {
	ObjectsInserted(ctx context.Context, ids *model.DBIDs) error
	ObjectsRemoved(ctx context.Context, ids *model.DBIDs, vectors map[model.DBID][]float64) error
}

// Relation is the object store consumed by indexes and preprocessors.
type Relation interface {
	// Get returns the vector of id. The slice must not be modified.
	Get(id model.DBID) ([]float64, bool)
	Size() int
	// IDs returns a snapshot of the current ids.
	IDs() *model.DBIDs
	Dim() int
	Subscribe(l Listener)
}

// Vectors is a Relation holding float64 vectors of a fixed dimension.
// Ids are assigned in ascending order and never reused.
//
// Insert and Remove are serialized together with their listener
// notifications: a listener sees every change in the order it was applied
// and never observes the relation ahead of the change it is handling.
type Vectors struct {
	write sync.Mutex

	mu        sync.RWMutex
	dim       int
	data      map[model.DBID][]float64
	ids       *model.DBIDs
	next      model.DBID
	listeners []Listener
}

var _ Relation = (*Vectors)(nil)

// New creates an empty relation for vectors of dimension dim.
func New(dim int) *Vectors {
	return &Vectors{
		dim:  dim,
		data: make(map[model.DBID][]float64),
		ids:  model.NewDBIDs(),
	}
}

// FromPoints creates a relation holding points with ids 0..len(points)-1.
func FromPoints(points [][]float64) (*Vectors, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no points", index.ErrInvalidConfiguration)
	}
	r := New(len(points[0]))
	if _, err := r.add(points); err != nil {
		return nil, err
	}
	return r, nil
}

// Dim returns the vector dimension.
func (r *Vectors) Dim() int { return r.dim }

// Size returns the number of stored objects.
func (r *Vectors) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Get returns the vector of id.
func (r *Vectors) Get(id model.DBID) ([]float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[id]
	return v, ok
}

// IDs returns a snapshot of the current ids.
func (r *Vectors) IDs() *model.DBIDs {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids.Clone()
}

// Subscribe registers l for change notification. Listeners are called
// synchronously in registration order.
func (r *Vectors) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Vectors) add(points [][]float64) (*model.DBIDs, error) {
	for _, p := range points {
		if len(p) != r.dim {
			return nil, &index.ErrDimensionMismatch{Expected: r.dim, Actual: len(p)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	added := model.NewDBIDs()
	for _, p := range points {
		id := r.next
		r.next++
		r.data[id] = slices.Clone(p)
		r.ids.Add(id)
		added.Add(id)
	}
	return added, nil
}

func (r *Vectors) snapshotListeners() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.listeners)
}

// Insert stores points and notifies listeners. The objects stay inserted
// even if a listener fails; the listener error is returned.
func (r *Vectors) Insert(ctx context.Context, points ...[]float64) ([]model.DBID, error) {
	r.write.Lock()
	defer r.write.Unlock()

	added, err := r.add(points)
	if err != nil {
		return nil, err
	}
	for _, l := range r.snapshotListeners() {
		if err := l.ObjectsInserted(ctx, added); err != nil {
			return added.Slice(), fmt.Errorf("notify insert: %w", err)
		}
	}
	return added.Slice(), nil
}

// Remove deletes ids and notifies listeners. Unknown ids fail with
// index.ErrNotFound before anything is removed.
func (r *Vectors) Remove(ctx context.Context, ids ...model.DBID) error {
	r.write.Lock()
	defer r.write.Unlock()

	removed, vectors, err := r.remove(ids)
	if err != nil {
		return err
	}
	for _, l := range r.snapshotListeners() {
		if err := l.ObjectsRemoved(ctx, removed, vectors); err != nil {
			return fmt.Errorf("notify remove: %w", err)
		}
	}
	return nil
}

func (r *Vectors) remove(ids []model.DBID) (*model.DBIDs, map[model.DBID][]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := model.NewDBIDs()
	for _, id := range ids {
		if _, ok := r.data[id]; !ok {
			return nil, nil, fmt.Errorf("object %d: %w", id, index.ErrNotFound)
		}
		removed.Add(id)
	}
	vectors := make(map[model.DBID][]float64, removed.Len())
	removed.ForEach(func(id model.DBID) bool {
		vectors[id] = r.data[id]
		delete(r.data, id)
		r.ids.Remove(id)
		return true
	})
	return removed, vectors, nil
}
