package model

import (
	"math"
	"slices"

	"github.com/hupe1980/treeindex/internal/queue"
)

// KNNList is an immutable k nearest neighbor result.
//
// Entries are ascending by (distance, id). The list holds at most k entries
// unless several entries tie with the k-th distance, in which case all of
// them are kept.
type KNNList struct {
	k         int
	neighbors []Neighbor
}

// NewKNNList builds a KNNList from an unsorted candidate slice, keeping the
// k best entries plus ties. The slice is not retained.
func NewKNNList(k int, candidates []Neighbor) *KNNList {
	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, CompareNeighbors)
	return &KNNList{k: k, neighbors: cutWithTies(sorted, k)}
}

// K returns the requested number of neighbors.
func (l *KNNList) K() int { return l.k }

// Len returns the number of entries, which may exceed K under ties.
func (l *KNNList) Len() int { return len(l.neighbors) }

// At returns the i-th entry.
func (l *KNNList) At(i int) Neighbor { return l.neighbors[i] }

// KDistance returns the distance of the k-th neighbor, or +Inf if the list
// holds fewer than k entries.
func (l *KNNList) KDistance() float64 {
	if l.k <= 0 || len(l.neighbors) < l.k {
		return math.Inf(1)
	}
	return l.neighbors[l.k-1].Distance
}

// Neighbors returns a copy of the entries.
func (l *KNNList) Neighbors() NeighborList {
	return slices.Clone(l.neighbors)
}

// IDs returns the ids in list order.
func (l *KNNList) IDs() []DBID {
	return NeighborList(l.neighbors).IDs()
}

// Contains reports whether id is among the neighbors.
func (l *KNNList) Contains(id DBID) bool {
	return NeighborList(l.neighbors).Contains(id)
}

// DistanceOf returns the stored distance of id.
func (l *KNNList) DistanceOf(id DBID) (float64, bool) {
	for _, n := range l.neighbors {
		if n.ID == id {
			return n.Distance, true
		}
	}
	return 0, false
}

// Sub returns the k nearest entries of l, extended by every entry tied with
// the k-th distance. If k is not smaller than K, l itself is returned.
func (l *KNNList) Sub(k int) *KNNList {
	if k >= l.k {
		return l
	}
	return &KNNList{k: k, neighbors: cutWithTies(l.neighbors, k)}
}

func cutWithTies(sorted []Neighbor, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	if len(sorted) <= k {
		return slices.Clip(sorted)
	}
	end := k
	kdist := sorted[k-1].Distance
	for end < len(sorted) && sorted[end].Distance == kdist {
		end++
	}
	return slices.Clip(sorted[:end])
}

// KNNHeap collects the k nearest candidates seen so far.
//
// A bounded max-heap holds k entries. Entries that tie with the current
// k-th distance are kept in a side list so that the final KNNList includes
// every tie.
type KNNHeap struct {
	k    int
	heap *queue.Heap[Neighbor]
	ties []Neighbor
}

// NewKNNHeap creates a heap for k neighbors. It panics if k < 1.
func NewKNNHeap(k int) *KNNHeap {
	if k < 1 {
		panic("model: KNNHeap requires k >= 1")
	}
	return &KNNHeap{
		k: k,
		heap: queue.New(func(a, b Neighbor) bool {
			return CompareNeighbors(a, b) > 0
		}),
	}
}

// K returns the requested number of neighbors.
func (h *KNNHeap) K() int { return h.k }

// Len returns the number of collected entries including ties.
func (h *KNNHeap) Len() int { return h.heap.Len() + len(h.ties) }

// KDistance returns the current k-th distance, or +Inf while fewer than k
// entries have been collected. Candidates farther than this cannot qualify.
func (h *KNNHeap) KDistance() float64 {
	if h.heap.Len() < h.k {
		return math.Inf(1)
	}
	top, _ := h.heap.Top()
	return top.Distance
}

// Insert offers a candidate and returns the updated k-th distance.
func (h *KNNHeap) Insert(id DBID, dist float64) float64 {
	n := Neighbor{ID: id, Distance: dist}

	if h.heap.Len() < h.k {
		h.heap.Push(n)
		return h.KDistance()
	}

	top, _ := h.heap.Top()
	switch {
	case dist > top.Distance:
		// Too far.
	case dist == top.Distance:
		h.ties = append(h.ties, n)
	default:
		h.heap.ReplaceTop(n)
		next, _ := h.heap.Top()
		if next.Distance == top.Distance {
			h.ties = append(h.ties, top)
		} else {
			h.ties = h.ties[:0]
		}
	}

	return h.KDistance()
}

// ToKNNList returns the collected entries as a KNNList.
func (h *KNNHeap) ToKNNList() *KNNList {
	out := make([]Neighbor, 0, h.Len())
	out = append(out, h.heap.Items()...)
	out = append(out, h.ties...)
	slices.SortFunc(out, CompareNeighbors)
	return &KNNList{k: h.k, neighbors: out}
}
