package mtree

// InsertionStrategy chooses the directory entry to descend into.
// dists[i] is the distance from the new key to the routing object of
// entries[i].
type InsertionStrategy interface {
	Choose(entries []Entry, dists []float64) int
}

// MinRadiusIncrease prefers the nearest routing object whose ball already
// covers the new key. Otherwise it picks the entry whose covering radius
// grows the least. Ties go to the lowest index.
type MinRadiusIncrease struct{}

// Choose implements InsertionStrategy.
func (MinRadiusIncrease) Choose(entries []Entry, dists []float64) int {
	best, bestCovered := -1, false
	var bestScore float64
	for i, e := range entries {
		covered := dists[i] <= e.Radius
		score := dists[i]
		if !covered {
			score = dists[i] - e.Radius
		}
		switch {
		case best < 0,
			covered && !bestCovered,
			covered == bestCovered && score < bestScore:
			best, bestCovered, bestScore = i, covered, score
		}
	}
	return best
}

// NearestRouting descends into the entry with the nearest routing object.
type NearestRouting struct{}

// Choose implements InsertionStrategy.
func (NearestRouting) Choose(_ []Entry, dists []float64) int {
	best := 0
	for i, d := range dists {
		if d < dists[best] {
			best = i
		}
	}
	return best
}
