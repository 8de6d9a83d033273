package mtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/internal/testutil"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
)

func pointEntries(points [][]float64) []Entry {
	out := make([]Entry, len(points))
	for i, p := range points {
		out[i] = leafEntry(model.DBID(i), p)
	}
	return out
}

func TestMinRadiusIncrease(t *testing.T) {
	entries := []Entry{
		{Child: 1, Radius: 5},
		{Child: 2, Radius: 2},
		{Child: 3, Radius: 0.5},
	}

	t.Run("nearest covering entry", func(t *testing.T) {
		assert.Equal(t, 1, MinRadiusIncrease{}.Choose(entries, []float64{4, 1.5, 3}))
	})
	t.Run("covering beats closer non-covering", func(t *testing.T) {
		assert.Equal(t, 0, MinRadiusIncrease{}.Choose(entries, []float64{4.9, 2.5, 1}))
	})
	t.Run("least increase when nothing covers", func(t *testing.T) {
		assert.Equal(t, 2, MinRadiusIncrease{}.Choose(entries, []float64{9, 6, 1}))
	})
	t.Run("ties go to the lowest index", func(t *testing.T) {
		assert.Equal(t, 0, MinRadiusIncrease{}.Choose(entries[:2], []float64{1, 1}))
	})
	t.Run("nearest routing", func(t *testing.T) {
		assert.Equal(t, 2, NearestRouting{}.Choose(entries, []float64{4, 1.5, 1}))
	})
}

func checkGroup(t *testing.T, g Group, dist distance.Func) {
	t.Helper()
	for _, e := range g.Entries {
		d := dist.Distance(e.Key, g.Routing.Key)
		assert.InDelta(t, d, e.ParentDist, 1e-12)
		assert.LessOrEqual(t, d+e.Radius, g.Radius+1e-12)
	}
}

func TestSplitStrategies(t *testing.T) {
	rng := testutil.NewRNG(3)
	entries := pointEntries(rng.UniformPoints(21, 2))
	dist := distance.Euclidean{}

	strategies := map[string]SplitStrategy{
		"mmrad":    MMRadSplit{},
		"farthest": FarthestPointsSplit{},
	}
	for name, s := range strategies {
		for _, minFill := range []int{1, 5, 10} {
			left, right := s.Split(entries, minFill, dist)
			assert.GreaterOrEqual(t, len(left.Entries), minFill, name)
			assert.GreaterOrEqual(t, len(right.Entries), minFill, name)
			assert.Equal(t, len(entries), len(left.Entries)+len(right.Entries), name)

			ids := model.NewDBIDs()
			for _, e := range append(left.Entries, right.Entries...) {
				ids.Add(e.ID)
			}
			assert.Equal(t, len(entries), ids.Len(), name)
			checkGroup(t, left, dist)
			checkGroup(t, right, dist)
		}
	}
}

func TestMMRadSplit_NoWorseThanFarthest(t *testing.T) {
	rng := testutil.NewRNG(5)
	points := rng.UniformPoints(20, 2)
	for i := 10; i < 20; i++ {
		points[i][0] += 10
	}
	entries := pointEntries(points)
	dist := distance.Euclidean{}

	ml, mr := MMRadSplit{}.Split(entries, 4, dist)
	fl, fr := FarthestPointsSplit{}.Split(entries, 4, dist)
	assert.LessOrEqual(t, max(ml.Radius, mr.Radius), max(fl.Radius, fr.Radius))

	// The two clusters end up apart.
	for _, g := range []Group{ml, mr} {
		side := g.Entries[0].Key[0] > 5
		for _, e := range g.Entries {
			assert.Equal(t, side, e.Key[0] > 5)
		}
	}
}

func TestSplit_DirectoryEntriesKeepRadius(t *testing.T) {
	entries := []Entry{
		{Child: 1, ID: 1, Key: []float64{0, 0}, Radius: 1},
		{Child: 2, ID: 2, Key: []float64{1, 0}, Radius: 3},
		{Child: 3, ID: 3, Key: []float64{10, 0}, Radius: 1},
		{Child: 4, ID: 4, Key: []float64{11, 0}, Radius: 0.5},
	}
	left, right := MMRadSplit{}.Split(entries, 2, distance.Euclidean{})
	checkGroup(t, left, distance.Euclidean{})
	checkGroup(t, right, distance.Euclidean{})
	assert.GreaterOrEqual(t, max(left.Radius, right.Radius), 3.0)
	for _, g := range []Group{left, right} {
		for _, e := range g.Entries {
			assert.NotEqual(t, pagefile.NoPage, e.Child)
		}
	}
}

func TestPivotOrdering_GroupSizes(t *testing.T) {
	rng := testutil.NewRNG(11)
	for _, n := range []int{11, 57, 200, 999} {
		entries := pointEntries(rng.UniformPoints(n, 3))
		groups := PivotOrdering{}.Partition(entries, 4, 10, distance.Euclidean{})

		total := 0
		for _, g := range groups {
			assert.GreaterOrEqual(t, len(g), 4, "n=%d", n)
			assert.LessOrEqual(t, len(g), 10, "n=%d", n)
			total += len(g)
		}
		assert.Equal(t, n, total)
	}
}

func TestPromote_MinimizesRadius(t *testing.T) {
	entries := pointEntries([][]float64{{0}, {1}, {2}, {3}, {10}})
	g := promote(entries, distance.Euclidean{})
	require.Len(t, g.Entries, 5)
	assert.Equal(t, model.DBID(3), g.Routing.ID)
	assert.InDelta(t, 7.0, g.Radius, 1e-12)
	checkGroup(t, g, distance.Euclidean{})
}
