package treeindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/treeindex/blobstore"
	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/preprocess"
	"github.com/hupe1980/treeindex/query"
	"github.com/hupe1980/treeindex/relation"
	"github.com/hupe1980/treeindex/snapshot"
	"github.com/hupe1980/treeindex/tree"
	"github.com/hupe1980/treeindex/tree/mtree"
	"github.com/hupe1980/treeindex/tree/rstar"
)

// Kind identifies the tree flavor of an Index.
type Kind = tree.Kind

const (
	// KindRStar is a paged R*-tree over points.
	KindRStar = tree.KindRStar

	// KindMTree is a paged M-tree over a metric.
	KindMTree = tree.KindMTree
)

// MutableRelation is a relation that accepts inserts and removals.
// relation.Vectors implements it.
type MutableRelation interface {
	relation.Relation
	Insert(ctx context.Context, points ...[]float64) ([]model.DBID, error)
	Remove(ctx context.Context, ids ...model.DBID) error
}

// spatialTree is the method set shared by rstar.Tree and mtree.Tree.
type spatialTree interface {
	index.KNNQuery
	index.RangeQuery
	index.BulkKNNQuery
	relation.Listener
	BulkLoad(ctx context.Context, ids []model.DBID) error
	Size() int
	Height() int
	Dim() int
	Validate() error
	Stats() (tree.Stats, error)
	Flush() error
	Close() error
}

var (
	_ spatialTree = (*rstar.Tree)(nil)
	_ spatialTree = (*mtree.Tree)(nil)
)

// Index is a disk-backed tree index over a relation.
//
// The Index follows its relation: objects inserted into or removed from
// the relation are indexed or dropped before the relation call returns.
// With WithMaterializedRKNN, the materialized kNN and reverse kNN sets are
// updated after the tree.
//
// Index is safe for concurrent use. Insert and Delete are serialized;
// queries run alongside them.
type Index struct {
	mu     sync.RWMutex
	closed bool
	// write serializes Insert and Delete with the notifications they cause.
	write sync.Mutex

	kind    Kind
	rel     relation.Relation
	file    pagefile.PageFile
	tree    spatialTree
	rknn    *preprocess.MaterializeKNNAndRKNN
	dq      *distance.VectorQuery
	opts    options
	logger  *Logger
	metrics MetricsCollector
}

// Open builds an Index over rel stored in file. An empty file gets a new
// tree, which is bulk loaded from rel unless WithoutInitialLoad is given.
// A file holding a tree is reopened; its kind must match WithKind.
func Open(ctx context.Context, rel relation.Relation, file pagefile.PageFile, optFns ...Option) (*Index, error) {
	if rel == nil {
		return nil, &index.ConfigError{Field: "Relation", Reason: "a relation is required"}
	}
	if file == nil {
		return nil, &index.ConfigError{Field: "PageFile", Reason: "a page file is required"}
	}
	o := applyOptions(optFns)
	logger := o.logger.WithKind(o.kind).WithDimension(rel.Dim())

	cfg := o.config
	if cfg.Dim == 0 {
		cfg.Dim = rel.Dim()
	}
	t, err := openTree(file, rel, cfg, o, logger)
	if err != nil {
		return nil, translateError(err)
	}
	if t.Dim() != rel.Dim() {
		_ = t.Close()
		return nil, translateError(&index.ErrDimensionMismatch{Expected: t.Dim(), Actual: rel.Dim()})
	}

	idx := &Index{
		kind:    o.kind,
		rel:     rel,
		file:    file,
		tree:    t,
		dq:      distance.NewVectorQuery(rel, o.dist),
		opts:    o,
		logger:  logger,
		metrics: o.metricsCollector,
	}
	if err := idx.init(ctx); err != nil {
		_ = t.Close()
		return nil, translateError(err)
	}
	rel.Subscribe(listener{idx: idx})
	return idx, nil
}

func openTree(file pagefile.PageFile, rel relation.Relation, cfg tree.Config, o options, logger *Logger) (spatialTree, error) {
	switch o.kind {
	case KindRStar:
		optFns := append([]rstar.Option{rstar.WithLogger(logger.Logger)}, o.rstarOptions...)
		if o.cachePages > 0 {
			optFns = append(optFns, rstar.WithCachePages(o.cachePages))
		}
		return rstar.New(file, rel, o.dist, cfg, optFns...)
	case KindMTree:
		optFns := append([]mtree.Option{mtree.WithLogger(logger.Logger)}, o.mtreeOptions...)
		if o.cachePages > 0 {
			optFns = append(optFns, mtree.WithCachePages(o.cachePages))
		}
		return mtree.New(file, rel, o.dist, cfg, optFns...)
	default:
		return nil, &index.ConfigError{Field: "Kind", Value: o.kind, Reason: "unknown tree kind"}
	}
}

func (idx *Index) init(ctx context.Context) error {
	switch size, want := idx.tree.Size(), idx.rel.Size(); {
	case size == 0 && want > 0 && idx.opts.initialLoad:
		if err := idx.bulkLoad(ctx, idx.rel.IDs().Slice()); err != nil {
			return err
		}
	case size != want:
		idx.logger.Warn("tree and relation sizes differ", "tree", size, "relation", want)
	}

	if idx.opts.materializeK == 0 {
		return nil
	}
	p, err := preprocess.NewMaterializeKNNAndRKNN(idx.rel, idx.tree, idx.dq, idx.opts.materializeK,
		preprocess.WithWorkers(idx.opts.workers),
		preprocess.WithController(idx.opts.controller),
		preprocess.WithLogger(idx.logger.Logger),
	)
	if err != nil {
		return err
	}
	if err := p.Preprocess(ctx); err != nil {
		return err
	}
	idx.rknn = p
	return nil
}

func (idx *Index) bulkLoad(ctx context.Context, ids []model.DBID) error {
	start := time.Now()
	err := idx.tree.BulkLoad(ctx, ids)
	elapsed := time.Since(start)
	idx.metrics.RecordBulkLoad(len(ids), elapsed, err)
	idx.logger.LogBulkLoad(ctx, len(ids), elapsed, err)
	return err
}

// Kind returns the tree flavor.
func (idx *Index) Kind() Kind { return idx.kind }

// Dim returns the dimensionality of the indexed vectors.
func (idx *Index) Dim() int { return idx.tree.Dim() }

// Size returns the number of indexed objects.
func (idx *Index) Size() int { return idx.tree.Size() }

// Height returns the number of tree levels.
func (idx *Index) Height() int { return idx.tree.Height() }

func (idx *Index) checkOpen() error {
	if idx.closed {
		return ErrClosed
	}
	return nil
}

func (idx *Index) queryOptions() []query.Option {
	return []query.Option{query.WithWorkers(idx.opts.workers), query.WithController(idx.opts.controller)}
}

// KNN returns the k nearest objects to q, extended by ties at the k-th
// distance.
func (idx *Index) KNN(ctx context.Context, q []float64, k int) (*model.KNNList, error) {
	start := time.Now()
	l, err := idx.knn(ctx, q, k)
	idx.recordSearch(ctx, "knn", k, start, knnLen(l), err)
	return l, translateError(err)
}

func (idx *Index) knn(ctx context.Context, q []float64, k int) (*model.KNNList, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return nil, err
	}
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	return idx.tree.KNN(ctx, q, k)
}

// KNNByID returns the k nearest objects to the stored object id, including
// id itself. With materialized neighbors and k up to their k, the lists are
// served without touching the tree.
func (idx *Index) KNNByID(ctx context.Context, id model.DBID, k int) (*model.KNNList, error) {
	start := time.Now()
	l, err := idx.knnByID(ctx, id, k)
	idx.recordSearch(ctx, "knn_by_id", k, start, knnLen(l), err)
	return l, translateError(err)
}

func (idx *Index) knnByID(ctx context.Context, id model.DBID, k int) (*model.KNNList, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return nil, err
	}
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	if idx.rknn != nil && k <= idx.rknn.K() {
		return idx.rknn.KNNByID(ctx, id, k)
	}
	return idx.tree.KNNByID(ctx, id, k)
}

// Range returns every object within radius of q, ascending by distance.
func (idx *Index) Range(ctx context.Context, q []float64, radius float64) (model.NeighborList, error) {
	start := time.Now()
	res, err := idx.rangeQuery(ctx, func() (model.NeighborList, error) {
		return idx.tree.Range(ctx, q, radius)
	})
	idx.recordSearch(ctx, "range", 0, start, len(res), err)
	return res, translateError(err)
}

// RangeByID returns every object within radius of the stored object id.
func (idx *Index) RangeByID(ctx context.Context, id model.DBID, radius float64) (model.NeighborList, error) {
	start := time.Now()
	res, err := idx.rangeQuery(ctx, func() (model.NeighborList, error) {
		return idx.tree.RangeByID(ctx, id, radius)
	})
	idx.recordSearch(ctx, "range_by_id", 0, start, len(res), err)
	return res, translateError(err)
}

func (idx *Index) rangeQuery(ctx context.Context, fn func() (model.NeighborList, error)) (model.NeighborList, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn()
}

// RKNN returns every object that has id among its k nearest neighbors,
// with its distance to id, ascending.
//
// With WithMaterializedRKNN the answer comes from the materialized sets and
// k must not exceed their k. Without it every object's kNN list is computed.
func (idx *Index) RKNN(ctx context.Context, id model.DBID, k int) (model.NeighborList, error) {
	start := time.Now()
	res, err := idx.reverseKNN(ctx, id, k)
	idx.recordSearch(ctx, "rknn", k, start, len(res), err)
	return res, translateError(err)
}

func (idx *Index) reverseKNN(ctx context.Context, id model.DBID, k int) (model.NeighborList, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return nil, err
	}
	if idx.rknn != nil {
		return idx.rknn.RKNNQuery().RKNN(ctx, id, k)
	}
	if _, ok := idx.rel.Get(id); !ok {
		return nil, fmt.Errorf("object %d: %w", id, index.ErrNotFound)
	}
	return query.NewSelfJoinRKNN(idx.tree, idx.rel, idx.queryOptions()...).RKNN(ctx, id, k)
}

// BulkKNN computes the kNN lists of ids in parallel.
func (idx *Index) BulkKNN(ctx context.Context, ids []model.DBID, k int) (map[model.DBID]*model.KNNList, error) {
	start := time.Now()
	res, err := idx.bulkKNN(ctx, ids, k)
	idx.recordSearch(ctx, "bulk_knn", k, start, len(res), err)
	return res, translateError(err)
}

func (idx *Index) bulkKNN(ctx context.Context, ids []model.DBID, k int) (map[model.DBID]*model.KNNList, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return nil, err
	}
	return query.BulkKNN(ctx, idx.tree, ids, k, idx.queryOptions()...)
}

func (idx *Index) recordSearch(ctx context.Context, kind string, k int, start time.Time, n int, err error) {
	idx.metrics.RecordSearch(k, time.Since(start), err)
	idx.logger.LogSearch(ctx, kind, k, n, err)
}

func knnLen(l *model.KNNList) int {
	if l == nil {
		return 0
	}
	return l.Len()
}

// Insert adds points to the relation, which indexes them. It fails with
// ErrReadOnly if the relation is not a MutableRelation or the page file
// is read-only.
func (idx *Index) Insert(ctx context.Context, points ...[]float64) ([]model.DBID, error) {
	start := time.Now()
	ids, err := idx.insert(ctx, points)
	idx.metrics.RecordInsert(len(points), time.Since(start), err)
	idx.logger.LogInsert(ctx, len(points), err)
	return ids, translateError(err)
}

func (idx *Index) insert(ctx context.Context, points [][]float64) ([]model.DBID, error) {
	rel, err := idx.mutable()
	if err != nil {
		return nil, err
	}
	idx.write.Lock()
	defer idx.write.Unlock()
	return rel.Insert(ctx, points...)
}

// Delete removes ids from the relation and the index.
func (idx *Index) Delete(ctx context.Context, ids ...model.DBID) error {
	start := time.Now()
	err := idx.delete(ctx, ids)
	idx.metrics.RecordDelete(len(ids), time.Since(start), err)
	idx.logger.LogDelete(ctx, len(ids), err)
	return translateError(err)
}

func (idx *Index) delete(ctx context.Context, ids []model.DBID) error {
	rel, err := idx.mutable()
	if err != nil {
		return err
	}
	idx.write.Lock()
	defer idx.write.Unlock()
	return rel.Remove(ctx, ids...)
}

func (idx *Index) mutable() (MutableRelation, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return nil, err
	}
	if pagefile.IsReadOnly(idx.file) {
		return nil, fmt.Errorf("%w: page file is read-only", ErrReadOnly)
	}
	rel, ok := idx.rel.(MutableRelation)
	if !ok {
		return nil, fmt.Errorf("%w: relation does not accept changes", ErrReadOnly)
	}
	return rel, nil
}

// Check verifies the structural invariants of the tree and, if present,
// the symmetry of the materialized kNN and reverse kNN sets.
func (idx *Index) Check() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return err
	}
	if err := idx.tree.Validate(); err != nil {
		return err
	}
	if idx.tree.Size() != idx.rel.Size() {
		return fmt.Errorf("%w: tree holds %d objects, relation %d", index.ErrInvalidState, idx.tree.Size(), idx.rel.Size())
	}
	if idx.rknn != nil {
		return idx.rknn.CheckInvariant()
	}
	return nil
}

// Stats walks the tree and reports its shape and IO counters.
func (idx *Index) Stats() (tree.Stats, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return tree.Stats{}, err
	}
	return idx.tree.Stats()
}

// AddKNNListener registers l for changes of the materialized kNN lists.
// It fails with index.ErrUnsupportedOperation without WithMaterializedRKNN.
func (idx *Index) AddKNNListener(l preprocess.KNNListener) error {
	if idx.rknn == nil {
		return fmt.Errorf("%w: no materialized neighbors", index.ErrUnsupportedOperation)
	}
	idx.rknn.AddListener(l)
	return nil
}

// Flush writes every dirty page and syncs the page file.
func (idx *Index) Flush() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return err
	}
	return idx.tree.Flush()
}

// Snapshot flushes the tree and exports its page file to store under name.
// An empty name is generated from the current time. Mutations wait until
// the export finished.
func (idx *Index) Snapshot(ctx context.Context, store blobstore.BlobStore, name string) (*snapshot.Manifest, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkOpen(); err != nil {
		return nil, err
	}
	if err := idx.tree.Flush(); err != nil {
		return nil, err
	}
	m, err := snapshot.Export(ctx, idx.file, store, name, idx.opts.snapshotOptions(idx.logger)...)
	if err != nil {
		idx.logger.LogSnapshot(ctx, "export", name, 0, err)
		return nil, err
	}
	idx.logger.LogSnapshot(ctx, "export", m.Name, len(m.Pages), nil)
	return m, nil
}

// Restore imports the snapshot name from store into the empty page file
// dst and opens an Index over it. An empty name restores the latest
// committed snapshot. rel must hold the objects the snapshot indexed.
func Restore(ctx context.Context, store blobstore.BlobStore, name string, rel relation.Relation, dst pagefile.PageFile, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	m, err := snapshot.Import(ctx, store, name, dst, o.snapshotOptions(o.logger)...)
	if err != nil {
		o.logger.LogSnapshot(ctx, "restore", name, 0, err)
		return nil, err
	}
	o.logger.LogSnapshot(ctx, "restore", m.Name, len(m.Pages), nil)
	return Open(ctx, rel, dst, optFns...)
}

func (o options) snapshotOptions(logger *Logger) []snapshot.Option {
	optFns := []snapshot.Option{
		snapshot.WithCompression(o.compression),
		snapshot.WithLogger(logger.Logger),
	}
	if o.controller != nil {
		optFns = append(optFns, snapshot.WithController(o.controller))
	}
	return optFns
}

// Close flushes and closes the tree and its page file. The relation keeps
// notifying the Index, which rejects further changes with ErrClosed.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	return idx.tree.Close()
}

// listener forwards relation changes to the tree and then to the
// materialized neighbors.
type listener struct {
	idx *Index
}

func (l listener) ObjectsInserted(ctx context.Context, ids *model.DBIDs) error {
	idx := l.idx
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return err
	}
	if err := idx.tree.ObjectsInserted(ctx, ids); err != nil {
		return err
	}
	if idx.rknn != nil {
		return idx.rknn.ObjectsInserted(ctx, ids)
	}
	return nil
}

func (l listener) ObjectsRemoved(ctx context.Context, ids *model.DBIDs, vectors map[model.DBID][]float64) error {
	idx := l.idx
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkOpen(); err != nil {
		return err
	}
	if err := idx.tree.ObjectsRemoved(ctx, ids, vectors); err != nil {
		return err
	}
	if idx.rknn != nil {
		return idx.rknn.ObjectsRemoved(ctx, ids, vectors)
	}
	return nil
}
