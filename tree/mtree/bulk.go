package mtree

import (
	"cmp"
	"slices"

	"github.com/hupe1980/treeindex/distance"
)

// BulkSplit partitions a complete entry set into node-sized groups for
// bulk loading. Every group holds between minFill and capacity entries
// unless there is only one.
type BulkSplit interface {
	Partition(entries []Entry, minFill, capacity int, dist distance.Func) [][]Entry
}

// PivotOrdering sorts the entries by distance to a pivot, the entry
// farthest from the first one, and cuts the order proportionally to the
// number of groups each side needs. Both halves are partitioned again
// around their own pivots.
type PivotOrdering struct{}

// Partition implements BulkSplit.
func (PivotOrdering) Partition(entries []Entry, minFill, capacity int, dist distance.Func) [][]Entry {
	if len(entries) == 0 {
		return nil
	}
	return pivotSplit(slices.Clone(entries), capacity, dist, nil)
}

func pivotSplit(entries []Entry, capacity int, dist distance.Func, out [][]Entry) [][]Entry {
	n := len(entries)
	if n <= capacity {
		return append(out, entries)
	}

	pivot, far := entries[0].Key, -1.0
	for _, e := range entries[1:] {
		if d := dist.Distance(entries[0].Key, e.Key); d > far {
			pivot, far = e.Key, d
		}
	}

	type keyed struct {
		e Entry
		d float64
	}
	items := make([]keyed, n)
	for i, e := range entries {
		items[i] = keyed{e: e, d: dist.Distance(pivot, e.Key)}
	}
	slices.SortStableFunc(items, func(a, b keyed) int { return cmp.Compare(a.d, b.d) })
	for i := range items {
		entries[i] = items[i].e
	}

	groups := (n + capacity - 1) / capacity
	cut := n * (groups / 2) / groups
	out = pivotSplit(entries[:cut:cut], capacity, dist, out)
	return pivotSplit(entries[cut:], capacity, dist, out)
}

// promote chooses the member that minimizes the covering radius as the
// routing object of entries and returns the group with ParentDist set.
func promote(entries []Entry, dist distance.Func) Group {
	dm := pairwise(entries, dist)
	best, bestRadius := 0, -1.0
	for i := range entries {
		var r float64
		for j, e := range entries {
			r = max(r, dm[i][j]+e.Radius)
		}
		if bestRadius < 0 || r < bestRadius {
			best, bestRadius = i, r
		}
	}
	members := make([]int, len(entries))
	for i := range members {
		members[i] = i
	}
	return buildGroup(entries, dm, best, members, bestRadius)
}
