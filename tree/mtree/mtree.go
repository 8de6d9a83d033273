package mtree

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/relation"
	"github.com/hupe1980/treeindex/tree"
)

// slack absorbs rounding when distances computed along different paths
// are compared against stored radii.
const slack = 1e-9

func within(d, r float64) bool { return d <= r+slack*(1+r) }

func exceeds(lb, bound float64) bool { return !within(lb, bound) }

// Tree is a paged M-tree.
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

// New opens the M-tree stored in file, creating an empty one if the file
// has no pages. dist must be a metric. src resolves object ids to vectors
// for Insert, BulkLoad and the by-id queries.
func New(file pagefile.PageFile, src distance.ObjectSource, dist distance.Func, cfg tree.Config, optFns ...Option) (*Tree, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if dist == nil {
		return nil, &index.ConfigError{Field: "Distance", Value: nil, Reason: "a distance function is required"}
	}
	if !dist.IsMetric() {
		return nil, &index.ConfigError{Field: "Distance", Value: dist, Reason: "the M-tree requires a metric"}
	}

	storeOpts := []tree.Option{tree.WithLogger(o.logger)}
	if o.cachePages > 0 {
		storeOpts = append(storeOpts, tree.WithCachePages(o.cachePages))
	}
	store, err := tree.Open(file, tree.KindMTree, cfg, newEntryCodec, storeOpts...)
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

// Dim returns the dimensionality of the indexed vectors.
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

func (t *Tree) checkDim(v []float64) error {
	if len(v) != t.store.Dim() {
		return &index.ErrDimensionMismatch{Expected: t.store.Dim(), Actual: len(v)}
	}
	return nil
}

func (t *Tree) lookup(id model.DBID) ([]float64, error) {
	if t.src == nil {
		return nil, fmt.Errorf("%w: tree has no object source", index.ErrUnsupportedOperation)
	}
	v, ok := t.src.Get(id)
	if !ok {
		return nil, fmt.Errorf("object %d: %w", id, index.ErrNotFound)
	}
	return v, nil
}

// Insert adds the object id with the vector held by the object source.
func (t *Tree) Insert(ctx context.Context, id model.DBID) error {
	v, err := t.lookup(id)
	if err != nil {
		return err
	}
	return t.InsertVector(ctx, id, v)
}

// InsertVector adds the object id with key v.
func (t *Tree) InsertVector(ctx context.Context, id model.DBID, v []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.checkDim(v); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}

	if err := t.insert(leafEntry(id, slices.Clone(v)), 0); err != nil {
		return err
	}
	t.store.AddSize(1)
	return nil
}

// promoted is the pair of routing entries replacing a split node in its
// parent. ParentDist is left for the parent to fill in.
type promoted struct {
	left, right Entry
}

// insert places e into a node at level, where leaves are level 0.
func (t *Tree) insert(e Entry, level int) error {
	root, height := t.store.Root(), t.store.Height()
	if level > height-1 {
		return &tree.InvariantError{Page: root, Reason: fmt.Sprintf("cannot insert at level %d into a tree of height %d", level, height)}
	}
	_, split, err := t.insertAt(root, height-1, nil, e, level)
	if err != nil || split == nil {
		return err
	}
	return t.growRoot(height, *split)
}

// insertAt adds e below page, whose routing object is routing (nil for the
// root). It returns the new covering radius of page around routing, or the
// routing entries of both halves if page was split.
func (t *Tree) insertAt(page pagefile.PageID, level int, routing []float64, e Entry, target int) (float64, *promoted, error) {
	h, err := t.store.Pin(page)
	if err != nil {
		return 0, nil, err
	}
	defer h.Release()
	n := h.Value()

	if n.Leaf != (level == 0) {
		return 0, nil, &tree.InvariantError{Page: page, Reason: fmt.Sprintf("leaf flag %t at level %d", n.Leaf, level)}
	}

	if level == target {
		e.ParentDist = t.parentDist(e.Key, routing)
		n.Add(e)
		if !e.IsLeaf() {
			if err := t.store.SetParent(e.Child, n.ID); err != nil {
				return 0, nil, err
			}
		}
	} else {
		if n.Len() == 0 {
			return 0, nil, &tree.InvariantError{Page: page, Reason: "empty directory node"}
		}
		dists := make([]float64, n.Len())
		for i, c := range n.Entries {
			dists[i] = t.dist.Distance(e.Key, c.Key)
		}
		i := t.opts.insertion.Choose(n.Entries, dists)
		radius, split, err := t.insertAt(n.Entries[i].Child, level-1, n.Entries[i].Key, e, target)
		if err != nil {
			return 0, nil, err
		}
		if split == nil {
			n.Entries[i].Radius = radius
		} else {
			split.left.ParentDist = t.parentDist(split.left.Key, routing)
			split.right.ParentDist = t.parentDist(split.right.Key, routing)
			n.Entries[i] = split.left
			n.Add(split.right)
		}
	}
	h.MarkDirty()

	if n.Len() > t.store.Capacity() {
		split, err := t.split(n, level)
		return 0, split, err
	}
	return coverRadius(n.Entries), nil, nil
}

func (t *Tree) parentDist(key, routing []float64) float64 {
	if routing == nil {
		return 0
	}
	return t.dist.Distance(key, routing)
}

// split moves half of n into a new sibling and returns the routing entries
// of both.
func (t *Tree) split(n *tree.Node[Entry], level int) (*promoted, error) {
	left, right := t.opts.split.Split(n.Entries, t.store.MinFill(), t.dist)

	sh, err := t.store.NewNode(n.Leaf, n.Parent)
	if err != nil {
		return nil, err
	}
	defer sh.Release()
	sibling := sh.Value()
	sibling.Reset(right.Entries)
	n.Reset(left.Entries)
	if !n.Leaf {
		for _, e := range right.Entries {
			if err := t.store.SetParent(e.Child, sibling.ID); err != nil {
				return nil, err
			}
		}
	}
	t.logger.Debug("split node", "page", n.ID, "sibling", sibling.ID, "level", level,
		"left", len(left.Entries), "right", len(right.Entries), "left_radius", left.Radius, "right_radius", right.Radius)

	return &promoted{
		left:  Entry{Child: n.ID, ID: left.Routing.ID, Key: left.Routing.Key, Radius: left.Radius},
		right: Entry{Child: sibling.ID, ID: right.Routing.ID, Key: right.Routing.Key, Radius: right.Radius},
	}, nil
}

func (t *Tree) growRoot(height int, split promoted) error {
	rh, err := t.store.NewNode(false, pagefile.NoPage)
	if err != nil {
		return err
	}
	defer rh.Release()
	root := rh.Value()
	root.Add(split.left)
	root.Add(split.right)

	if err := t.store.SetParent(split.left.Child, root.ID); err != nil {
		return err
	}
	if err := t.store.SetParent(split.right.Child, root.ID); err != nil {
		return err
	}
	t.store.SetRoot(root.ID, height+1)
	t.logger.Debug("grew root", "root", root.ID, "height", height+1)
	return nil
}

// Delete removes the object id. It reports false if the id is not
// indexed. Only subtrees whose ball covers the object's vector are
// searched; once the source no longer holds the vector, every leaf is.
func (t *Tree) Delete(ctx context.Context, id model.DBID) (bool, error) {
	var v []float64
	if t.src != nil {
		v, _ = t.src.Get(id)
	}
	return t.DeleteVector(ctx, id, v)
}

// DeleteVector removes the object id stored under key v. A nil v searches
// every leaf.
func (t *Tree) DeleteVector(ctx context.Context, id model.DBID, v []float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if v != nil {
		if err := t.checkDim(v); err != nil {
			return false, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return false, err
	}

	path, err := t.findLeaf(t.store.Root(), id, v)
	if err != nil || path == nil {
		return false, err
	}
	if err := t.condense(path); err != nil {
		return false, err
	}
	t.store.AddSize(-1)
	return true, nil
}

type step struct {
	page  pagefile.PageID
	index int
}

func (t *Tree) findLeaf(page pagefile.PageID, id model.DBID, v []float64) ([]step, error) {
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
		if v == nil || within(t.dist.Distance(v, e.Key), e.Radius) {
			candidates = append(candidates, candidate{index: i, child: e.Child})
		}
	}
	h.Release()

	for _, c := range candidates {
		sub, err := t.findLeaf(c.child, id, v)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return append([]step{{page: page, index: c.index}}, sub...), nil
		}
	}
	return nil, nil
}

type pending struct {
	e     Entry
	level int
}

// condense removes the leaf entry at the end of path, dissolves nodes
// that fall below minFill, shrinks the covering radii on the path and
// reinserts the orphaned entries at their levels.
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
			ph.Value().Entries[parent.index].Radius = coverRadius(n.Entries)
			h.Release()
		}
		ph.MarkDirty()
		ph.Release()
	}

	if len(orphans) > 0 {
		t.logger.Debug("reinserting orphans", "count", len(orphans))
	}
	for i := len(orphans) - 1; i >= 0; i-- {
		if err := t.insert(orphans[i].e, orphans[i].level); err != nil {
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
		ch, err := t.store.Pin(child)
		if err != nil {
			return err
		}
		c := ch.Value()
		c.Parent = pagefile.NoPage
		for i := range c.Entries {
			c.Entries[i].ParentDist = 0
		}
		ch.MarkDirty()
		ch.Release()
		t.store.SetRoot(child, t.store.Height()-1)
	}
	return nil
}

// BulkLoad builds the tree from ids in one pass. It fails with
// index.ErrInvalidState unless the tree is empty.
func (t *Tree) BulkLoad(ctx context.Context, ids []model.DBID) error {
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		v, err := t.lookup(id)
		if err != nil {
			return err
		}
		if err := t.checkDim(v); err != nil {
			return err
		}
		entries = append(entries, leafEntry(id, slices.Clone(v)))
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
		parts := t.opts.bulk.Partition(entries, minFill, capacity, t.dist)
		next := make([]Entry, 0, len(parts))
		for _, part := range parts {
			g := promote(part, t.dist)
			id, err := t.newFilledNode(level == 0, g.Entries)
			if err != nil {
				return err
			}
			next = append(next, Entry{Child: id, ID: g.Routing.ID, Key: g.Routing.Key, Radius: g.Radius})
		}
		entries = next
		level++
	}
	for i := range entries {
		entries[i].ParentDist = 0
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
	t.logger.Info("bulk loaded m-tree", "objects", count, "height", level+1)
	return nil
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
// vector it was stored under. Ids missing from vectors search every leaf.
func (t *Tree) ObjectsRemoved(ctx context.Context, ids *model.DBIDs, vectors map[model.DBID][]float64) error {
	for _, id := range ids.Slice() {
		if _, err := t.DeleteVector(ctx, id, vectors[id]); err != nil {
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

// Close flushes and closes the tree and its page file.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.store.Close()
}
