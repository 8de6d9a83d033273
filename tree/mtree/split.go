package mtree

import (
	"cmp"
	"slices"

	"github.com/hupe1980/treeindex/distance"
)

// Group is one half of a split: the promoted routing object and the
// entries it covers, with ParentDist relative to the routing object.
type Group struct {
	Routing Entry
	Entries []Entry
	Radius  float64
}

// SplitStrategy promotes two routing objects from the entries of an
// overflowing node and partitions the entries between them. Both groups
// hold at least minFill entries.
type SplitStrategy interface {
	Split(entries []Entry, minFill int, dist distance.Func) (Group, Group)
}

// MMRadSplit tries every pair of entries as routing objects and keeps the
// pair whose larger covering radius is smallest. Entries go to the nearer
// routing object; the smaller group is then topped up to minFill.
type MMRadSplit struct{}

// Split implements SplitStrategy.
func (MMRadSplit) Split(entries []Entry, minFill int, dist distance.Func) (Group, Group) {
	dm := pairwise(entries, dist)
	var best *partition
	for a := 0; a < len(entries); a++ {
		for b := a + 1; b < len(entries); b++ {
			p := partitionBy(entries, dm, a, b, minFill)
			if best == nil || max(p.ra, p.rb) < max(best.ra, best.rb) {
				best = &p
			}
		}
	}
	return best.groups(entries, dm)
}

// FarthestPointsSplit promotes the two entries farthest apart.
type FarthestPointsSplit struct{}

// Split implements SplitStrategy.
func (FarthestPointsSplit) Split(entries []Entry, minFill int, dist distance.Func) (Group, Group) {
	dm := pairwise(entries, dist)
	fa, fb := 0, 1
	for a := 0; a < len(entries); a++ {
		for b := a + 1; b < len(entries); b++ {
			if dm[a][b] > dm[fa][fb] {
				fa, fb = a, b
			}
		}
	}
	p := partitionBy(entries, dm, fa, fb, minFill)
	return p.groups(entries, dm)
}

func pairwise(entries []Entry, dist distance.Func) [][]float64 {
	n := len(entries)
	flat := make([]float64, n*n)
	dm := make([][]float64, n)
	for i := range dm {
		dm[i] = flat[i*n : (i+1)*n : (i+1)*n]
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := dist.Distance(entries[i].Key, entries[j].Key)
			dm[i][j], dm[j][i] = d, d
		}
	}
	return dm
}

type partition struct {
	a, b   int
	ga, gb []int
	ra, rb float64
}

// partitionBy assigns every entry to the nearer of a and b (ties to the
// smaller group) and then moves the entries with the smallest relative
// preference into the smaller group until it holds minFill.
func partitionBy(entries []Entry, dm [][]float64, a, b, minFill int) partition {
	p := partition{a: a, b: b, ga: []int{a}, gb: []int{b}}
	for i := range entries {
		if i == a || i == b {
			continue
		}
		switch da, db := dm[i][a], dm[i][b]; {
		case da < db, da == db && len(p.ga) <= len(p.gb):
			p.ga = append(p.ga, i)
		default:
			p.gb = append(p.gb, i)
		}
	}

	if len(p.ga) < minFill {
		p.gb, p.ga = rebalance(p.gb, p.ga, b, a, dm, minFill)
	} else if len(p.gb) < minFill {
		p.ga, p.gb = rebalance(p.ga, p.gb, a, b, dm, minFill)
	}

	for _, i := range p.ga {
		p.ra = max(p.ra, dm[i][a]+entries[i].Radius)
	}
	for _, i := range p.gb {
		p.rb = max(p.rb, dm[i][b]+entries[i].Radius)
	}
	return p
}

// rebalance moves entries from big (routed at bigRouting) to small until
// small holds minFill. The routing object of big never moves.
func rebalance(big, small []int, bigRouting, smallRouting int, dm [][]float64, minFill int) ([]int, []int) {
	movable := slices.DeleteFunc(slices.Clone(big), func(i int) bool { return i == bigRouting })
	slices.SortStableFunc(movable, func(x, y int) int {
		return cmp.Compare(dm[x][smallRouting]-dm[x][bigRouting], dm[y][smallRouting]-dm[y][bigRouting])
	})
	move := movable[:minFill-len(small)]
	small = append(small, move...)
	big = slices.DeleteFunc(big, func(i int) bool { return slices.Contains(move, i) })
	return big, small
}

func (p partition) groups(entries []Entry, dm [][]float64) (Group, Group) {
	return buildGroup(entries, dm, p.a, p.ga, p.ra), buildGroup(entries, dm, p.b, p.gb, p.rb)
}

func buildGroup(entries []Entry, dm [][]float64, routing int, members []int, radius float64) Group {
	slices.Sort(members)
	g := Group{
		Routing: Entry{ID: entries[routing].ID, Key: entries[routing].Key},
		Entries: make([]Entry, 0, len(members)),
		Radius:  radius,
	}
	for _, i := range members {
		e := entries[i]
		e.ParentDist = dm[i][routing]
		g.Entries = append(g.Entries, e)
	}
	return g
}
