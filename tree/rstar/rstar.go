package rstar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/relation"
	"github.com/hupe1980/treeindex/spatial"
	"github.com/hupe1980/treeindex/tree"
)

// Tree is a paged R*-tree over points.
type Tree struct {
	mu     sync.RWMutex
	store  *tree.Store[Entry]
	src    distance.ObjectSource
	dist   distance.Func
	opts   options
	logger *slog.Logger
	closed bool
}

var (
	_ index.KNNQuery     = (*Tree)(nil)
	_ index.RangeQuery   = (*Tree)(nil)
	_ index.BulkKNNQuery = (*Tree)(nil)
	_ relation.Listener  = (*Tree)(nil)
)

// New opens the R*-tree stored in file, creating an empty one if the file
// has no pages. src resolves object ids to points for Insert, Delete,
// BulkLoad and the by-id queries; it may be nil if only the Point variants
// are used.
func New(file pagefile.PageFile, src distance.ObjectSource, dist distance.Func, cfg tree.Config, optFns ...Option) (*Tree, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if dist == nil {
		return nil, &index.ConfigError{Field: "Distance", Value: nil, Reason: "a distance function is required"}
	}

	storeOpts := []tree.Option{tree.WithLogger(o.logger)}
	if o.cachePages > 0 {
		storeOpts = append(storeOpts, tree.WithCachePages(o.cachePages))
	}
	store, err := tree.Open(file, tree.KindRStar, cfg, newEntryCodec, storeOpts...)
	if err != nil {
		return nil, err
	}

	return &Tree{
		store:  store,
		src:    src,
		dist:   dist,
		opts:   o,
		logger: o.logger,
	}, nil
}

// Size returns the number of indexed objects.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.store.Size())
}

// Height returns the number of node levels.
func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.Height()
}

// Dim returns the dimensionality of the indexed points.
func (t *Tree) Dim() int { return t.store.Dim() }

// Capacity returns the maximum number of entries per node.
func (t *Tree) Capacity() int { return t.store.Capacity() }

// MinFill returns the minimum number of entries per non-root node.
func (t *Tree) MinFill() int { return t.store.MinFill() }

func (t *Tree) checkOpen() error {
	if t.closed {
		return fmt.Errorf("%w: tree is closed", index.ErrInvalidState)
	}
	return nil
}

func (t *Tree) checkWritable() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	return t.store.CheckWritable()
}

func (t *Tree) checkDim(p []float64) error {
	if len(p) != t.store.Dim() {
		return &index.ErrDimensionMismatch{Expected: t.store.Dim(), Actual: len(p)}
	}
	return nil
}

func (t *Tree) lookup(id model.DBID) ([]float64, error) {
	if t.src == nil {
		return nil, fmt.Errorf("%w: tree has no object source", index.ErrUnsupportedOperation)
	}
	p, ok := t.src.Get(id)
	if !ok {
		return nil, fmt.Errorf("object %d: %w", id, index.ErrNotFound)
	}
	return p, nil
}

// Insert adds the object id with the point held by the object source.
func (t *Tree) Insert(ctx context.Context, id model.DBID) error {
	p, err := t.lookup(id)
	if err != nil {
		return err
	}
	return t.InsertPoint(ctx, id, p)
}

// InsertPoint adds the object id with key point.
func (t *Tree) InsertPoint(ctx context.Context, id model.DBID, point []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.checkDim(point); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}

	st := newInsertState()
	if err := t.insert(leafEntry(id, point), 0, st); err != nil {
		return err
	}
	if err := t.drain(st); err != nil {
		return err
	}
	t.store.AddSize(1)
	return nil
}

// pending is an entry waiting to be reinserted into a node at level.
type pending struct {
	e     Entry
	level int
}

// insertState tracks one top-level operation: the levels that already
// used their reinsertion and the entries waiting to be reinserted.
type insertState struct {
	reinserted map[int]bool
	queue      []pending
}

func newInsertState() *insertState {
	return &insertState{reinserted: make(map[int]bool)}
}

func (t *Tree) drain(st *insertState) error {
	for len(st.queue) > 0 {
		p := st.queue[0]
		st.queue = st.queue[1:]
		if err := t.insert(p.e, p.level, st); err != nil {
			return err
		}
	}
	return nil
}

// insert places e into a node at level, where leaves are level 0.
func (t *Tree) insert(e Entry, level int, st *insertState) error {
	root, height := t.store.Root(), t.store.Height()
	if level > height-1 {
		return &tree.InvariantError{Page: root, Reason: fmt.Sprintf("cannot insert at level %d into a tree of height %d", level, height)}
	}
	_, split, err := t.insertAt(root, height-1, true, e, level, st)
	if err != nil || split == nil {
		return err
	}
	return t.growRoot(root, height, *split)
}

func (t *Tree) insertAt(id pagefile.PageID, level int, isRoot bool, e Entry, target int, st *insertState) (spatial.Box, *Entry, error) {
	h, err := t.store.Pin(id)
	if err != nil {
		return spatial.Box{}, nil, err
	}
	defer h.Release()
	n := h.Value()

	if n.Leaf != (level == 0) {
		return spatial.Box{}, nil, &tree.InvariantError{Page: id, Reason: fmt.Sprintf("leaf flag %t at level %d", n.Leaf, level)}
	}

	if level == target {
		n.Add(e)
		if !e.IsLeaf() {
			if err := t.store.SetParent(e.Child, n.ID); err != nil {
				return spatial.Box{}, nil, err
			}
		}
	} else {
		if n.Len() == 0 {
			return spatial.Box{}, nil, &tree.InvariantError{Page: id, Reason: "empty directory node"}
		}
		i := t.opts.insertion.Choose(n.Entries, e.Box, level-1)
		box, split, err := t.insertAt(n.Entries[i].Child, level-1, false, e, target, st)
		if err != nil {
			return spatial.Box{}, nil, err
		}
		n.Entries[i].Box = box
		if split != nil {
			n.Add(*split)
		}
	}
	h.MarkDirty()

	if n.Len() > t.store.Capacity() {
		return t.overflow(n, level, isRoot, st)
	}
	return mbr(n.Entries), nil, nil
}

// overflow reinserts part of n once per level, or splits it. A split
// returns the entry for the new sibling.
func (t *Tree) overflow(n *tree.Node[Entry], level int, isRoot bool, st *insertState) (spatial.Box, *Entry, error) {
	minFill := t.store.MinFill()

	if !isRoot && !st.reinserted[level] {
		st.reinserted[level] = true
		keep, again := t.opts.overflow.Reinsert(n.Entries, minFill)
		if len(again) > 0 {
			n.Reset(keep)
			for _, e := range again {
				st.queue = append(st.queue, pending{e: e, level: level})
			}
			return mbr(n.Entries), nil, nil
		}
	}

	left, right := t.opts.split.Split(n.Entries, minFill)
	sh, err := t.store.NewNode(n.Leaf, n.Parent)
	if err != nil {
		return spatial.Box{}, nil, err
	}
	defer sh.Release()

	sibling := sh.Value()
	sibling.Reset(right)
	n.Reset(left)
	if !n.Leaf {
		for _, e := range right {
			if err := t.store.SetParent(e.Child, sibling.ID); err != nil {
				return spatial.Box{}, nil, err
			}
		}
	}
	t.logger.Debug("split node", "page", n.ID, "sibling", sibling.ID, "level", level, "left", len(left), "right", len(right))
	return mbr(left), &Entry{Child: sibling.ID, Box: mbr(right)}, nil
}

func (t *Tree) growRoot(old pagefile.PageID, height int, split Entry) error {
	h, err := t.store.Pin(old)
	if err != nil {
		return err
	}
	oldBox := mbr(h.Value().Entries)
	h.Release()

	rh, err := t.store.NewNode(false, pagefile.NoPage)
	if err != nil {
		return err
	}
	defer rh.Release()
	root := rh.Value()
	root.Add(Entry{Child: old, Box: oldBox})
	root.Add(split)

	if err := t.store.SetParent(old, root.ID); err != nil {
		return err
	}
	if err := t.store.SetParent(split.Child, root.ID); err != nil {
		return err
	}
	t.store.SetRoot(root.ID, height+1)
	t.logger.Debug("grew root", "root", root.ID, "height", height+1)
	return nil
}

// Delete removes the object id. It reports false if the id is not
// indexed. The entry is located by the point held by the object source;
// once the source no longer holds it, every leaf is searched.
func (t *Tree) Delete(ctx context.Context, id model.DBID) (bool, error) {
	var point []float64
	if t.src != nil {
		point, _ = t.src.Get(id)
	}
	return t.DeletePoint(ctx, id, point)
}

// DeletePoint removes the object id stored under point. A nil point
// searches every leaf.
func (t *Tree) DeletePoint(ctx context.Context, id model.DBID, point []float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if point != nil {
		if err := t.checkDim(point); err != nil {
			return false, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return false, err
	}

	path, err := t.findLeaf(t.store.Root(), id, point)
	if err != nil || path == nil {
		return false, err
	}
	if err := t.condense(path); err != nil {
		return false, err
	}
	t.store.AddSize(-1)
	return true, nil
}

// step is one node on a root-to-leaf path and the entry index followed in it.
type step struct {
	page  pagefile.PageID
	index int
}

func (t *Tree) findLeaf(page pagefile.PageID, id model.DBID, point []float64) ([]step, error) {
	h, err := t.store.Pin(page)
	if err != nil {
		return nil, err
	}
	n := h.Value()

	if n.Leaf {
		defer h.Release()
		for i, e := range n.Entries {
			if e.ID == id {
				return []step{{page: page, index: i}}, nil
			}
		}
		return nil, nil
	}

	type candidate struct {
		index int
		child pagefile.PageID
	}
	var candidates []candidate
	for i, e := range n.Entries {
		if point == nil || e.Box.ContainsPoint(point) {
			candidates = append(candidates, candidate{index: i, child: e.Child})
		}
	}
	h.Release()

	for _, c := range candidates {
		sub, err := t.findLeaf(c.child, id, point)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return append([]step{{page: page, index: c.index}}, sub...), nil
		}
	}
	return nil, nil
}

// condense removes the leaf entry at the end of path, dissolves nodes
// that fall below minFill, tightens the boxes on the path and reinserts
// the orphaned entries at their levels.
func (t *Tree) condense(path []step) error {
	last := path[len(path)-1]
	h, err := t.store.Pin(last.page)
	if err != nil {
		return err
	}
	h.Value().Remove(last.index)
	h.MarkDirty()
	h.Release()

	height := t.store.Height()
	minFill := t.store.MinFill()
	var orphans []pending

	for i := len(path) - 1; i > 0; i-- {
		level := height - 1 - i
		page, parent := path[i].page, path[i-1]

		h, err := t.store.Pin(page)
		if err != nil {
			return err
		}
		ph, err := t.store.Pin(parent.page)
		if err != nil {
			h.Release()
			return err
		}

		n := h.Value()
		if n.Len() < minFill {
			for _, e := range n.Entries {
				orphans = append(orphans, pending{e: e, level: level})
			}
			ph.Value().Remove(parent.index)
			h.Release()
			if err := t.store.FreeNode(page); err != nil {
				ph.Release()
				return err
			}
		} else {
			ph.Value().Entries[parent.index].Box = mbr(n.Entries)
			h.Release()
		}
		ph.MarkDirty()
		ph.Release()
	}

	if len(orphans) > 0 {
		t.logger.Debug("reinserting orphans", "count", len(orphans))
	}
	st := newInsertState()
	for i := len(orphans) - 1; i >= 0; i-- {
		if err := t.insert(orphans[i].e, orphans[i].level, st); err != nil {
			return err
		}
		if err := t.drain(st); err != nil {
			return err
		}
	}
	return t.collapseRoot()
}

// collapseRoot replaces a directory root with a single entry by its child.
func (t *Tree) collapseRoot() error {
	for t.store.Height() > 1 {
		root := t.store.Root()
		h, err := t.store.Pin(root)
		if err != nil {
			return err
		}
		n := h.Value()
		if n.Leaf || n.Len() != 1 {
			h.Release()
			return nil
		}
		child := n.Entries[0].Child
		h.Release()

		if err := t.store.FreeNode(root); err != nil {
			return err
		}
		if err := t.store.SetParent(child, pagefile.NoPage); err != nil {
			return err
		}
		t.store.SetRoot(child, t.store.Height()-1)
	}
	return nil
}

// BulkLoad builds the tree from ids in one pass. It fails with
// index.ErrInvalidState unless the tree is empty.
func (t *Tree) BulkLoad(ctx context.Context, ids []model.DBID) error {
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		p, err := t.lookup(id)
		if err != nil {
			return err
		}
		if err := t.checkDim(p); err != nil {
			return err
		}
		entries = append(entries, leafEntry(id, p))
	}
	return t.bulkLoad(ctx, entries)
}

// BulkLoadPoints builds the tree from parallel slices of ids and points.
func (t *Tree) BulkLoadPoints(ctx context.Context, ids []model.DBID, points [][]float64) error {
	if len(ids) != len(points) {
		return fmt.Errorf("%w: %d ids but %d points", index.ErrInvalidConfiguration, len(ids), len(points))
	}
	entries := make([]Entry, 0, len(ids))
	for i, id := range ids {
		if err := t.checkDim(points[i]); err != nil {
			return err
		}
		entries = append(entries, leafEntry(id, points[i]))
	}
	return t.bulkLoad(ctx, entries)
}

func (t *Tree) bulkLoad(ctx context.Context, entries []Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	if t.store.Size() != 0 {
		return fmt.Errorf("%w: bulk load requires an empty tree, it holds %d objects", index.ErrInvalidState, t.store.Size())
	}
	if len(entries) == 0 {
		return nil
	}

	count := len(entries)
	capacity, minFill := t.store.Capacity(), t.store.MinFill()
	level := 0
	for len(entries) > capacity {
		if err := ctx.Err(); err != nil {
			return err
		}
		groups := t.opts.bulk.Partition(entries, minFill, capacity)
		next := make([]Entry, 0, len(groups))
		for _, g := range groups {
			id, err := t.newFilledNode(level == 0, g)
			if err != nil {
				return err
			}
			next = append(next, Entry{Child: id, Box: mbr(g)})
		}
		entries = next
		level++
	}

	root := t.store.Root()
	h, err := t.store.Pin(root)
	if err != nil {
		return err
	}
	n := h.Value()
	n.Leaf = level == 0
	n.Reset(entries)
	h.MarkDirty()
	h.Release()
	if err := t.adopt(root, entries); err != nil {
		return err
	}

	t.store.SetRoot(root, level+1)
	t.store.AddSize(count)
	t.logger.Info("bulk loaded r*-tree", "objects", count, "height", level+1)
	return t.collapseRoot()
}

func (t *Tree) newFilledNode(leaf bool, entries []Entry) (pagefile.PageID, error) {
	h, err := t.store.NewNode(leaf, pagefile.NoPage)
	if err != nil {
		return pagefile.NoPage, err
	}
	n := h.Value()
	n.Reset(entries)
	id := n.ID
	h.Release()
	return id, t.adopt(id, entries)
}

// adopt points the children of directory entries at parent.
func (t *Tree) adopt(parent pagefile.PageID, entries []Entry) error {
	for _, e := range entries {
		if e.IsLeaf() {
			continue
		}
		if err := t.store.SetParent(e.Child, parent); err != nil {
			return err
		}
	}
	return nil
}

// ObjectsInserted indexes ids in ascending order.
func (t *Tree) ObjectsInserted(ctx context.Context, ids *model.DBIDs) error {
	for _, id := range ids.Slice() {
		if err := t.Insert(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ObjectsRemoved removes ids from the tree, locating each entry by the
// point it was stored under. Ids missing from vectors search every leaf.
func (t *Tree) ObjectsRemoved(ctx context.Context, ids *model.DBIDs, vectors map[model.DBID][]float64) error {
	for _, id := range ids.Slice() {
		if _, err := t.DeletePoint(ctx, id, vectors[id]); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes dirty nodes and the metadata page.
func (t *Tree) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	return t.store.Flush()
}

// Close flushes and closes the tree and its page file. Later calls on the
// tree fail with index.ErrInvalidState.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.store.Close()
}
