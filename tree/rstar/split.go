package rstar

import (
	"cmp"
	"math"
	"slices"

	"github.com/hupe1980/treeindex/spatial"
)

// SplitStrategy partitions the entries of an overflowing node into two
// groups holding at least minFill entries each.
type SplitStrategy interface {
	Split(entries []Entry, minFill int) (left, right []Entry)
}

// TopologicalSplit is the R* split: the axis with the smallest margin sum
// over all distributions, then the distribution with the least overlap,
// then the least total volume.
type TopologicalSplit struct{}

// Split implements SplitStrategy.
func (TopologicalSplit) Split(entries []Entry, minFill int) ([]Entry, []Entry) {
	n := len(entries)
	dim := entries[0].Box.Dim()

	bestAxis, bestMargin := 0, math.Inf(1)
	for axis := 0; axis < dim; axis++ {
		margin := 0.0
		for _, sorted := range axisSorts(entries, axis) {
			pre, suf := prefixBoxes(sorted), suffixBoxes(sorted)
			for k := minFill; k <= n-minFill; k++ {
				margin += pre[k-1].Margin() + suf[k].Margin()
			}
		}
		if margin < bestMargin {
			bestAxis, bestMargin = axis, margin
		}
	}

	var best []Entry
	bestK := -1
	bestOvl, bestVol := math.Inf(1), math.Inf(1)
	for _, sorted := range axisSorts(entries, bestAxis) {
		pre, suf := prefixBoxes(sorted), suffixBoxes(sorted)
		for k := minFill; k <= n-minFill; k++ {
			ovl := spatial.Overlap(pre[k-1], suf[k])
			vol := pre[k-1].Volume() + suf[k].Volume()
			if bestK < 0 || ovl < bestOvl || (ovl == bestOvl && vol < bestVol) {
				best, bestK, bestOvl, bestVol = sorted, k, ovl, vol
			}
		}
	}
	return slices.Clone(best[:bestK]), slices.Clone(best[bestK:])
}

func axisSorts(entries []Entry, axis int) [2][]Entry {
	byMin := slices.Clone(entries)
	slices.SortStableFunc(byMin, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Box.Min[axis], b.Box.Min[axis]), cmp.Compare(a.Box.Max[axis], b.Box.Max[axis]))
	})
	byMax := slices.Clone(entries)
	slices.SortStableFunc(byMax, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Box.Max[axis], b.Box.Max[axis]), cmp.Compare(a.Box.Min[axis], b.Box.Min[axis]))
	})
	return [2][]Entry{byMin, byMax}
}

func prefixBoxes(sorted []Entry) []spatial.Box {
	out := make([]spatial.Box, len(sorted))
	acc := sorted[0].Box.Clone()
	for i, e := range sorted {
		acc.Extend(e.Box)
		out[i] = acc.Clone()
	}
	return out
}

func suffixBoxes(sorted []Entry) []spatial.Box {
	out := make([]spatial.Box, len(sorted))
	acc := sorted[len(sorted)-1].Box.Clone()
	for i := len(sorted) - 1; i >= 0; i-- {
		acc.Extend(sorted[i].Box)
		out[i] = acc.Clone()
	}
	return out
}

// QuadraticSplit is Guttman's quadratic split.
type QuadraticSplit struct{}

// Split implements SplitStrategy.
func (QuadraticSplit) Split(entries []Entry, minFill int) ([]Entry, []Entry) {
	n := len(entries)

	s1, s2 := 0, 1
	worst := math.Inf(-1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			waste := spatial.Union(entries[i].Box, entries[j].Box).Volume() - entries[i].Box.Volume() - entries[j].Box.Volume()
			if waste > worst {
				s1, s2, worst = i, j, waste
			}
		}
	}

	left := []Entry{entries[s1]}
	right := []Entry{entries[s2]}
	lbox, rbox := entries[s1].Box.Clone(), entries[s2].Box.Clone()

	rest := make([]Entry, 0, n-2)
	for i, e := range entries {
		if i != s1 && i != s2 {
			rest = append(rest, e)
		}
	}

	for len(rest) > 0 {
		if len(left)+len(rest) == minFill {
			left = append(left, rest...)
			break
		}
		if len(right)+len(rest) == minFill {
			right = append(right, rest...)
			break
		}

		// Pick the entry with the strongest preference for one group.
		pick, pickDiff := 0, math.Inf(-1)
		for i, e := range rest {
			d := math.Abs(spatial.Enlargement(lbox, e.Box) - spatial.Enlargement(rbox, e.Box))
			if d > pickDiff {
				pick, pickDiff = i, d
			}
		}
		e := rest[pick]
		rest = slices.Delete(rest, pick, pick+1)

		dl, dr := spatial.Enlargement(lbox, e.Box), spatial.Enlargement(rbox, e.Box)
		toLeft := dl < dr ||
			(dl == dr && (lbox.Volume() < rbox.Volume() ||
				(lbox.Volume() == rbox.Volume() && len(left) <= len(right))))
		if toLeft {
			left = append(left, e)
			lbox.Extend(e.Box)
		} else {
			right = append(right, e)
			rbox.Extend(e.Box)
		}
	}
	return left, right
}
