// Package distance provides distance functions over float64 vectors, the
// lower bounds used to prune bounding regions, and distance queries that
// resolve object ids.
package distance

import (
	"fmt"
	"math"

	"github.com/hupe1980/treeindex/spatial"
)

// Func is a distance function.
//
// Implementations must be symmetric. Metric trees additionally require the
// triangle inequality; violating it silently breaks pruning.
type Func interface {
	// Distance returns the distance between a and b.
	Distance(a, b []float64) float64

	// MinDist returns a lower bound of the distance between q and any point in b.
	MinDist(q []float64, b spatial.Box) float64

	// IsMetric reports whether the triangle inequality holds.
	IsMetric() bool

	String() string
}

// Metric names a built-in distance function.
type Metric int

const (
	MetricEuclidean Metric = iota
	MetricSquaredEuclidean
	MetricManhattan
	MetricMaximum
)

func (m Metric) String() string {
	switch m {
	case MetricEuclidean:
		return "Euclidean"
	case MetricSquaredEuclidean:
		return "SquaredEuclidean"
	case MetricManhattan:
		return "Manhattan"
	case MetricMaximum:
		return "Maximum"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricEuclidean:
		return Euclidean{}, nil
	case MetricSquaredEuclidean:
		return SquaredEuclidean{}, nil
	case MetricManhattan:
		return Manhattan{}, nil
	case MetricMaximum:
		return Maximum{}, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// axisGap returns how far v lies outside [lo, hi].
func axisGap(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	default:
		return 0
	}
}

// Euclidean is the L2 distance.
type Euclidean struct{}

func (Euclidean) Distance(a, b []float64) float64 {
	return math.Sqrt(SquaredEuclidean{}.Distance(a, b))
}

func (Euclidean) MinDist(q []float64, b spatial.Box) float64 {
	return math.Sqrt(SquaredEuclidean{}.MinDist(q, b))
}

func (Euclidean) IsMetric() bool { return true }
func (Euclidean) String() string { return "Euclidean" }

// SquaredEuclidean is the squared L2 distance. It ranks like Euclidean but
// is not a metric.
type SquaredEuclidean struct{}

func (SquaredEuclidean) Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func (SquaredEuclidean) MinDist(q []float64, b spatial.Box) float64 {
	var sum float64
	for i := range q {
		d := axisGap(q[i], b.Min[i], b.Max[i])
		sum += d * d
	}
	return sum
}

func (SquaredEuclidean) IsMetric() bool { return false }
func (SquaredEuclidean) String() string { return "SquaredEuclidean" }

// Manhattan is the L1 distance.
type Manhattan struct{}

func (Manhattan) Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

func (Manhattan) MinDist(q []float64, b spatial.Box) float64 {
	var sum float64
	for i := range q {
		sum += axisGap(q[i], b.Min[i], b.Max[i])
	}
	return sum
}

func (Manhattan) IsMetric() bool { return true }
func (Manhattan) String() string { return "Manhattan" }

// Maximum is the L-infinity distance.
type Maximum struct{}

func (Maximum) Distance(a, b []float64) float64 {
	var m float64
	for i := range a {
		m = math.Max(m, math.Abs(a[i]-b[i]))
	}
	return m
}

func (Maximum) MinDist(q []float64, b spatial.Box) float64 {
	var m float64
	for i := range q {
		m = math.Max(m, axisGap(q[i], b.Min[i], b.Max[i]))
	}
	return m
}

func (Maximum) IsMetric() bool { return true }
func (Maximum) String() string { return "Maximum" }

// Minkowski is the Lp distance for P >= 1.
type Minkowski struct {
	P float64
}

func (m Minkowski) Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Pow(math.Abs(a[i]-b[i]), m.P)
	}
	return math.Pow(sum, 1/m.P)
}

func (m Minkowski) MinDist(q []float64, b spatial.Box) float64 {
	var sum float64
	for i := range q {
		sum += math.Pow(axisGap(q[i], b.Min[i], b.Max[i]), m.P)
	}
	return math.Pow(sum, 1/m.P)
}

func (m Minkowski) IsMetric() bool { return m.P >= 1 }
func (m Minkowski) String() string { return fmt.Sprintf("Minkowski(p=%g)", m.P) }
