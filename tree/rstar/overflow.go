package rstar

import (
	"cmp"
	"slices"
)

// OverflowStrategy decides how to treat a non-root node with capacity+1
// entries. The tree consults it at most once per level and top-level
// operation; every other overflow is split.
type OverflowStrategy interface {
	// Reinsert returns the entries to keep and the entries to reinsert, in
	// reinsertion order. An empty reinsert slice means split instead.
	Reinsert(entries []Entry, minFill int) (keep, reinsert []Entry)
}

// NoReinsert always splits.
type NoReinsert struct{}

// Reinsert implements OverflowStrategy.
func (NoReinsert) Reinsert(entries []Entry, _ int) ([]Entry, []Entry) {
	return entries, nil
}

// LimitedReinsert removes the Fraction of entries whose centers lie
// farthest from the node center and reinserts them. With CloseReinsert the
// closest of those goes first, otherwise the farthest.
type LimitedReinsert struct {
	Fraction      float64
	CloseReinsert bool
}

// DefaultReinsert is the R* overflow treatment.
var DefaultReinsert = LimitedReinsert{Fraction: 0.3, CloseReinsert: true}

// Reinsert implements OverflowStrategy.
func (r LimitedReinsert) Reinsert(entries []Entry, minFill int) ([]Entry, []Entry) {
	p := int(r.Fraction * float64(len(entries)))
	p = min(p, len(entries)-minFill)
	if p < 1 {
		return entries, nil
	}

	center := mbr(entries).Center()
	type ranked struct {
		e    Entry
		dist float64
		pos  int
	}
	rs := make([]ranked, len(entries))
	for i, e := range entries {
		rs[i] = ranked{e: e, dist: squaredDist(e.Box.Center(), center), pos: i}
	}
	// Farthest first; position keeps the order deterministic.
	slices.SortFunc(rs, func(a, b ranked) int {
		return cmp.Or(cmp.Compare(b.dist, a.dist), cmp.Compare(a.pos, b.pos))
	})

	far := rs[:p]
	if r.CloseReinsert {
		slices.Reverse(far)
	}
	reinsert := make([]Entry, 0, p)
	for _, x := range far {
		reinsert = append(reinsert, x.e)
	}

	kept := rs[p:]
	slices.SortFunc(kept, func(a, b ranked) int { return cmp.Compare(a.pos, b.pos) })
	keep := make([]Entry, 0, len(kept))
	for _, x := range kept {
		keep = append(keep, x.e)
	}
	return keep, reinsert
}

func squaredDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

