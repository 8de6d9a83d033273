package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/testutil"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/spatial"
)

func TestFuncs(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{4, 6, 3}

	tests := []struct {
		name   string
		fn     Func
		want   float64
		metric bool
	}{
		{"Euclidean", Euclidean{}, 5, true},
		{"SquaredEuclidean", SquaredEuclidean{}, 25, false},
		{"Manhattan", Manhattan{}, 7, true},
		{"Maximum", Maximum{}, 4, true},
		{"Minkowski1", Minkowski{P: 1}, 7, true},
		{"Minkowski2", Minkowski{P: 2}, 5, true},
		{"MinkowskiHalf", Minkowski{P: 0.5}, math.Pow(math.Sqrt(3)+2, 2), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.fn.Distance(a, b), 1e-9)
			assert.InDelta(t, tt.fn.Distance(b, a), tt.fn.Distance(a, b), 1e-12)
			assert.Equal(t, tt.metric, tt.fn.IsMetric())
			assert.NotEmpty(t, tt.fn.String())
		})
	}
}

func TestMinDist_IsLowerBound(t *testing.T) {
	rng := testutil.NewRNG(3)
	funcs := []Func{Euclidean{}, SquaredEuclidean{}, Manhattan{}, Maximum{}, Minkowski{P: 3}}

	for trial := 0; trial < 100; trial++ {
		pts := rng.UniformPoints(5, 3)
		box := spatial.PointBox(pts[0])
		for _, p := range pts[1:4] {
			box.Extend(spatial.PointBox(p))
		}
		q := pts[4]

		for _, fn := range funcs {
			md := fn.MinDist(q, box)
			for _, p := range pts[:4] {
				require.LessOrEqual(t, md, fn.Distance(q, p)+1e-12, "%s", fn)
			}
		}
	}

	inside := spatial.NewBox([]float64{0, 0}, []float64{2, 2})
	assert.Equal(t, 0.0, Euclidean{}.MinDist([]float64{1, 1}, inside))
	assert.Equal(t, 5.0, Euclidean{}.MinDist([]float64{5, 6}, inside))
}

func TestProvider(t *testing.T) {
	fn, err := Provider(MetricManhattan)
	require.NoError(t, err)
	assert.Equal(t, Manhattan{}, fn)

	_, err = Provider(Metric(99))
	assert.Error(t, err)
	assert.Equal(t, "Unknown(99)", Metric(99).String())
}

type mapSource map[model.DBID][]float64

func (m mapSource) Get(id model.DBID) ([]float64, bool) {
	v, ok := m[id]
	return v, ok
}

func TestVectorQuery(t *testing.T) {
	q := NewVectorQuery(mapSource{1: {0, 0}, 2: {3, 4}}, Euclidean{})

	d, err := q.DistanceByID(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5.0, d)

	d, err = q.DistanceTo([]float64{3, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 4.0, d)

	_, err = q.DistanceByID(1, 9)
	assert.ErrorIs(t, err, index.ErrNotFound)
	assert.Equal(t, Euclidean{}, q.Func())
}
