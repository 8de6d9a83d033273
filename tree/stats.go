package tree

import "github.com/hupe1980/treeindex/pagefile"

// Stats describes the shape of a tree.
type Stats struct {
	Kind           Kind
	Dim            int
	Height         int
	Size           uint64
	Capacity       int
	MinFill        int
	Nodes          int
	LeafNodes      int
	DirectoryNodes int
	// AvgFill is the mean number of entries per node divided by Capacity.
	AvgFill float64
	Cache   pagefile.CacheStats
	IO      pagefile.IOStats
}

// CollectStats walks the tree and gathers node counts.
func (s *Store[E]) CollectStats(childOf func(E) pagefile.PageID) (Stats, error) {
	st := Stats{
		Kind:     s.meta.Kind,
		Dim:      s.meta.Dim,
		Height:   s.meta.Height,
		Size:     s.meta.Size,
		Capacity: s.meta.Capacity,
		MinFill:  s.meta.MinFill,
	}

	entries := 0
	err := s.Walk(childOf, func(n *Node[E], _ int) error {
		st.Nodes++
		if n.Leaf {
			st.LeafNodes++
		} else {
			st.DirectoryNodes++
		}
		entries += n.Len()
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	if st.Nodes > 0 {
		st.AvgFill = float64(entries) / float64(st.Nodes*s.meta.Capacity)
	}
	st.Cache = s.cache.Stats()
	st.IO = s.file.Stats()
	return st, nil
}

// CheckFill returns an error if a node violates minFill <= len <= capacity.
// The root is exempt from the lower bound.
func (s *Store[E]) CheckFill(n *Node[E], isRoot bool) error {
	if n.Len() > s.meta.Capacity {
		return &FillError{Page: n.ID, Entries: n.Len(), Min: s.meta.MinFill, Max: s.meta.Capacity}
	}
	if !isRoot && n.Len() < s.meta.MinFill {
		return &FillError{Page: n.ID, Entries: n.Len(), Min: s.meta.MinFill, Max: s.meta.Capacity}
	}
	return nil
}
