// Package testutil provides deterministic data generators for tests.
package testutil

import (
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Perm returns a pseudo-random permutation of [0,n).
func (r *RNG) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Perm(n)
}

// Point returns a point with coordinates in [0, 1).
func (r *RNG) Point(dim int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := make([]float64, dim)
	for i := range p {
		p[i] = r.rand.Float64()
	}
	return p
}

// UniformPoints generates num points with coordinates in [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformPoints(num, dim int) [][]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float64, num*dim)
	points := make([][]float64, num)
	for i := range num {
		p := data[i*dim : (i+1)*dim : (i+1)*dim]
		for j := range p {
			p[j] = r.rand.Float64()
		}
		points[i] = p
	}
	return points
}

// GridPoints generates num points with integer coordinates in [0, side).
// Duplicates and equal distances are common, which exercises tie handling.
func (r *RNG) GridPoints(num, dim, side int) [][]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	points := make([][]float64, num)
	for i := range points {
		p := make([]float64, dim)
		for j := range p {
			p[j] = float64(r.rand.Intn(side))
		}
		points[i] = p
	}
	return points
}
