package model

import (
	"cmp"
	"fmt"
	"slices"
)

// Neighbor is a (distance, id) pair.
type Neighbor struct {
	ID       DBID
	Distance float64
}

// String returns a string representation of the Neighbor.
func (n Neighbor) String() string {
	return fmt.Sprintf("%d@%g", uint32(n.ID), n.Distance)
}

// CompareNeighbors orders by distance, then by id.
func CompareNeighbors(a, b Neighbor) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// NeighborList is a list of neighbors, usually ascending by distance.
type NeighborList []Neighbor

// Sort orders the list by distance, then id.
func (l NeighborList) Sort() {
	slices.SortFunc(l, CompareNeighbors)
}

// IDs returns the ids in list order.
func (l NeighborList) IDs() []DBID {
	out := make([]DBID, len(l))
	for i, n := range l {
		out[i] = n.ID
	}
	return out
}

// Contains reports whether id occurs in the list.
func (l NeighborList) Contains(id DBID) bool {
	for _, n := range l {
		if n.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a copy of the list.
func (l NeighborList) Clone() NeighborList {
	return slices.Clone(l)
}
