package rstar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treeindex/internal/testutil"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/spatial"
)

func boxEntry(child pagefile.PageID, min, max []float64) Entry {
	return Entry{Child: child, Box: spatial.NewBox(min, max)}
}

func randomLeafEntries(rng *testutil.RNG, n int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = leafEntry(model.DBID(i), rng.Point(2))
	}
	return out
}

func TestLeastEnlargement_Choose(t *testing.T) {
	entries := []Entry{
		boxEntry(1, []float64{0, 0}, []float64{10, 10}),
		boxEntry(2, []float64{20, 20}, []float64{21, 21}),
		boxEntry(3, []float64{0, 0}, []float64{2, 2}),
	}

	// Inside two boxes: no enlargement either way, the smaller one wins.
	assert.Equal(t, 2, LeastEnlargement{}.Choose(entries, spatial.PointBox([]float64{1, 1}), 0))
	// Only the large box contains it.
	assert.Equal(t, 0, LeastEnlargement{}.Choose(entries, spatial.PointBox([]float64{5, 5}), 0))
	// Closest to the small far box.
	assert.Equal(t, 1, LeastEnlargement{}.Choose(entries, spatial.PointBox([]float64{21, 22}), 0))

	// Identical boxes fall back to the lowest index.
	same := []Entry{boxEntry(1, []float64{0, 0}, []float64{1, 1}), boxEntry(2, []float64{0, 0}, []float64{1, 1})}
	assert.Equal(t, 0, LeastEnlargement{}.Choose(same, spatial.PointBox([]float64{3, 3}), 0))
}

func TestLeastOverlap_Choose(t *testing.T) {
	entries := []Entry{
		boxEntry(1, []float64{0, 0}, []float64{10, 10}),
		boxEntry(2, []float64{10.5, 0}, []float64{20, 1}),
	}
	p := spatial.PointBox([]float64{11, 8})

	// Growing the square is cheaper but makes it overlap the strip.
	assert.Equal(t, 0, LeastEnlargement{}.Choose(entries, p, 0))
	assert.Equal(t, 1, LeastOverlap{}.Choose(entries, p, 0))

	c := Combined{Directory: LeastEnlargement{}, Leaf: LeastOverlap{}}
	assert.Equal(t, 1, c.Choose(entries, p, 0))
	assert.Equal(t, 0, c.Choose(entries, p, 1))
}

func TestSplitStrategies_RespectMinFill(t *testing.T) {
	rng := testutil.NewRNG(11)
	strategies := map[string]SplitStrategy{
		"topological": TopologicalSplit{},
		"quadratic":   QuadraticSplit{},
	}
	for name, s := range strategies {
		t.Run(name, func(t *testing.T) {
			for _, minFill := range []int{1, 4, 10} {
				entries := randomLeafEntries(rng, 21)
				left, right := s.Split(entries, minFill)
				assert.GreaterOrEqual(t, len(left), minFill)
				assert.GreaterOrEqual(t, len(right), minFill)
				assert.Equal(t, len(entries), len(left)+len(right))

				ids := model.NewDBIDs()
				for _, e := range append(append([]Entry{}, left...), right...) {
					ids.Add(e.ID)
				}
				assert.Equal(t, len(entries), ids.Len())
			}
		})
	}
}

func TestTopologicalSplit_SeparatesClusters(t *testing.T) {
	var entries []Entry
	for i := 0; i < 5; i++ {
		y := float64(i % 3)
		entries = append(entries, leafEntry(model.DBID(i), []float64{float64(i), y}))
		entries = append(entries, leafEntry(model.DBID(10+i), []float64{float64(100 + i), y}))
	}
	left, right := TopologicalSplit{}.Split(entries, 2)
	require.Len(t, left, 5)
	require.Len(t, right, 5)
	for _, e := range left {
		assert.Less(t, e.ID, model.DBID(10))
	}
	assert.Equal(t, 0.0, spatial.Overlap(mbr(left), mbr(right)))
}

func TestLimitedReinsert(t *testing.T) {
	var entries []Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, leafEntry(model.DBID(i), []float64{float64(i), 0}))
	}

	keep, again := DefaultReinsert.Reinsert(entries, 4)
	require.Len(t, again, 3)
	require.Len(t, keep, 7)
	// The node center is x=4.5; the farthest centers are x=0, 9, 8 (ties by position).
	assert.ElementsMatch(t, []model.DBID{0, 9, 1}, []model.DBID{again[0].ID, again[1].ID, again[2].ID})
	assert.Equal(t, model.DBID(1), again[0].ID, "close reinsert starts with the nearest")

	far := LimitedReinsert{Fraction: 0.3}
	_, again = far.Reinsert(entries, 4)
	assert.Equal(t, model.DBID(0), again[0].ID)

	keep, again = LimitedReinsert{Fraction: 0.9}.Reinsert(entries, 4)
	assert.Len(t, keep, 4)
	assert.Len(t, again, 6)

	keep, again = NoReinsert{}.Reinsert(entries, 4)
	assert.Len(t, keep, 10)
	assert.Empty(t, again)
}

func TestSortTileRecursive_Partition(t *testing.T) {
	rng := testutil.NewRNG(5)
	for _, n := range []int{21, 100, 401, 1000} {
		entries := randomLeafEntries(rng, n)
		groups := SortTileRecursive{}.Partition(entries, 8, 20)

		total := 0
		for _, g := range groups {
			assert.GreaterOrEqual(t, len(g), 8, "n=%d", n)
			assert.LessOrEqual(t, len(g), 20, "n=%d", n)
			total += len(g)
		}
		assert.Equal(t, n, total)
	}
}

func TestHilbertCurve_Partition(t *testing.T) {
	rng := testutil.NewRNG(6)
	for _, n := range []int{1, 21, 100, 401, 1000} {
		entries := randomLeafEntries(rng, n)
		groups := HilbertCurve{}.Partition(entries, 8, 20)

		seen := make(map[model.DBID]bool, n)
		for _, g := range groups {
			if len(groups) > 1 {
				assert.GreaterOrEqual(t, len(g), 8, "n=%d", n)
			}
			assert.LessOrEqual(t, len(g), 20, "n=%d", n)
			for _, e := range g {
				assert.False(t, seen[e.ID], "n=%d: %d twice", n, e.ID)
				seen[e.ID] = true
			}
		}
		assert.Len(t, seen, n)
	}
}

func TestHilbertIndex_VisitsAdjacentCells(t *testing.T) {
	const bits, side = 3, 8
	order := make([][2]int, side*side)
	filled := make([]bool, side*side)
	for x := range side {
		for y := range side {
			key := hilbertIndex([]uint32{uint32(x), uint32(y)}, bits)
			i := int(key[0] >> (64 - 2*bits))
			require.False(t, filled[i], "index %d assigned twice", i)
			filled[i] = true
			order[i] = [2]int{x, y}
		}
	}
	for i := 1; i < len(order); i++ {
		dx := order[i][0] - order[i-1][0]
		dy := order[i][1] - order[i-1][1]
		assert.Equal(t, 1, dx*dx+dy*dy, "step %d: %v -> %v", i, order[i-1], order[i])
	}
}
