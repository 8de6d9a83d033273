package rstar

import "github.com/hupe1980/treeindex/spatial"

// InsertionStrategy picks the directory entry to descend into when
// inserting box. childLevel is the level of the entries' children, 0 for
// leaves.
type InsertionStrategy interface {
	Choose(entries []Entry, box spatial.Box, childLevel int) int
}

// LeastEnlargement picks the entry whose box needs the least volume
// enlargement, then the smallest volume, then the lowest index.
type LeastEnlargement struct{}

// Choose implements InsertionStrategy.
func (LeastEnlargement) Choose(entries []Entry, box spatial.Box, _ int) int {
	best := 0
	bestEnl, bestVol := 0.0, 0.0
	for i, e := range entries {
		vol := e.Box.Volume()
		enl := spatial.Union(e.Box, box).Volume() - vol
		if i == 0 || enl < bestEnl || (enl == bestEnl && vol < bestVol) {
			best, bestEnl, bestVol = i, enl, vol
		}
	}
	return best
}

// LeastOverlap picks the entry whose overlap with its siblings grows the
// least, breaking ties like LeastEnlargement.
type LeastOverlap struct{}

// Choose implements InsertionStrategy.
func (LeastOverlap) Choose(entries []Entry, box spatial.Box, _ int) int {
	best := 0
	var bestOvl, bestEnl, bestVol float64
	for i, e := range entries {
		grown := spatial.Union(e.Box, box)
		ovl := 0.0
		for j, o := range entries {
			if j == i {
				continue
			}
			ovl += spatial.Overlap(grown, o.Box) - spatial.Overlap(e.Box, o.Box)
		}
		vol := e.Box.Volume()
		enl := grown.Volume() - vol
		if i == 0 || ovl < bestOvl ||
			(ovl == bestOvl && (enl < bestEnl || (enl == bestEnl && vol < bestVol))) {
			best, bestOvl, bestEnl, bestVol = i, ovl, enl, vol
		}
	}
	return best
}

// Combined uses Leaf when the children are leaves and Directory otherwise.
// The classic R* choice is Combined{Directory: LeastEnlargement{}, Leaf: LeastOverlap{}}.
type Combined struct {
	Directory InsertionStrategy
	Leaf      InsertionStrategy
}

// Choose implements InsertionStrategy.
func (c Combined) Choose(entries []Entry, box spatial.Box, childLevel int) int {
	if childLevel == 0 {
		return c.Leaf.Choose(entries, box, childLevel)
	}
	return c.Directory.Choose(entries, box, childLevel)
}
