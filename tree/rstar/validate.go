package rstar

import (
	"fmt"
	"slices"

	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/spatial"
	"github.com/hupe1980/treeindex/tree"
)

// Validate walks the whole tree and checks node fill, leaf levels, parent
// pointers, box containment, and that every object appears exactly once.
func (t *Tree) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	seen := model.NewDBIDs()
	root := t.store.Root()
	if err := t.validateNode(root, pagefile.NoPage, t.store.Height()-1, nil, seen); err != nil {
		return err
	}
	if uint64(seen.Len()) != t.store.Size() {
		return &tree.InvariantError{Page: root, Reason: fmt.Sprintf("tree holds %d objects, metadata says %d", seen.Len(), t.store.Size())}
	}
	return nil
}

func (t *Tree) validateNode(page, parent pagefile.PageID, level int, bound *spatial.Box, seen *model.DBIDs) error {
	h, err := t.store.Pin(page)
	if err != nil {
		return err
	}
	n := h.Value()
	fillErr := t.store.CheckFill(n, parent == pagefile.NoPage)
	leaf, gotParent := n.Leaf, n.Parent
	entries := slices.Clone(n.Entries)
	h.Release()

	if fillErr != nil {
		return fillErr
	}
	if gotParent != parent {
		return &tree.InvariantError{Page: page, Reason: fmt.Sprintf("parent pointer %v, want %v", gotParent, parent)}
	}
	if leaf != (level == 0) {
		return &tree.InvariantError{Page: page, Reason: fmt.Sprintf("leaf flag %t at level %d", leaf, level)}
	}

	for _, e := range entries {
		if e.Box.Dim() != t.store.Dim() {
			return &tree.InvariantError{Page: page, Reason: fmt.Sprintf("entry of dimension %d", e.Box.Dim())}
		}
		if bound != nil && !bound.Contains(e.Box) {
			return &tree.InvariantError{Page: page, Reason: fmt.Sprintf("entry %v escapes parent box %v", e.Box, *bound)}
		}
		if leaf {
			if !e.IsLeaf() {
				return &tree.InvariantError{Page: page, Reason: "directory entry in leaf"}
			}
			if !seen.Add(e.ID) {
				return &tree.InvariantError{Page: page, Reason: fmt.Sprintf("object %d indexed twice", e.ID)}
			}
			continue
		}
		if e.IsLeaf() {
			return &tree.InvariantError{Page: page, Reason: "object entry in directory"}
		}
		if err := t.validateNode(e.Child, page, level-1, &e.Box, seen); err != nil {
			return err
		}
	}
	return nil
}

// Stats walks the tree and returns its shape and cache counters.
func (t *Tree) Stats() (tree.Stats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return tree.Stats{}, err
	}
	return t.store.CollectStats(childOf)
}
