// Package spatial provides axis-aligned hyper-rectangles used as bounding
// regions by the R*-tree.
package spatial

import (
	"fmt"
	"math"
	"slices"
)

// Box is an axis-aligned hyper-rectangle with Min[i] <= Max[i] in every dimension.
type Box struct {
	Min []float64
	Max []float64
}

// NewBox creates a box from copies of min and max.
func NewBox(min, max []float64) Box {
	return Box{Min: slices.Clone(min), Max: slices.Clone(max)}
}

// PointBox creates a degenerate box around p.
func PointBox(p []float64) Box {
	return Box{Min: slices.Clone(p), Max: slices.Clone(p)}
}

// EmptyBox creates a box of dim dimensions that is the identity for Extend.
func EmptyBox(dim int) Box {
	b := Box{Min: make([]float64, dim), Max: make([]float64, dim)}
	for i := 0; i < dim; i++ {
		b.Min[i] = math.Inf(1)
		b.Max[i] = math.Inf(-1)
	}
	return b
}

// Dim returns the dimensionality of the box.
func (b Box) Dim() int { return len(b.Min) }

// IsEmpty reports whether the box contains no point.
func (b Box) IsEmpty() bool {
	for i := range b.Min {
		if b.Min[i] > b.Max[i] {
			return true
		}
	}
	return len(b.Min) == 0
}

// Clone returns a deep copy of the box.
func (b Box) Clone() Box {
	return NewBox(b.Min, b.Max)
}

// Equal reports whether both boxes have identical bounds.
func (b Box) Equal(o Box) bool {
	return slices.Equal(b.Min, o.Min) && slices.Equal(b.Max, o.Max)
}

// String returns a string representation of the box.
func (b Box) String() string {
	return fmt.Sprintf("[%v, %v]", b.Min, b.Max)
}

// Extend grows b in place so that it also covers o.
func (b *Box) Extend(o Box) {
	for i := range b.Min {
		b.Min[i] = math.Min(b.Min[i], o.Min[i])
		b.Max[i] = math.Max(b.Max[i], o.Max[i])
	}
}

// Union gives the smallest box containing both a and b.
func Union(a, b Box) Box {
	u := a.Clone()
	u.Extend(b)
	return u
}

// UnionAll gives the smallest box containing every box. boxes must not be empty.
func UnionAll(boxes []Box) Box {
	u := boxes[0].Clone()
	for _, b := range boxes[1:] {
		u.Extend(b)
	}
	return u
}

// Volume returns the product of the side lengths.
func (b Box) Volume() float64 {
	v := 1.0
	for i := range b.Min {
		v *= b.Max[i] - b.Min[i]
	}
	return v
}

// Margin returns the sum of the side lengths.
func (b Box) Margin() float64 {
	m := 0.0
	for i := range b.Min {
		m += b.Max[i] - b.Min[i]
	}
	return m
}

// Center returns the center point of the box.
func (b Box) Center() []float64 {
	c := make([]float64, len(b.Min))
	for i := range b.Min {
		c[i] = (b.Min[i] + b.Max[i]) / 2
	}
	return c
}

// Intersects reports whether a and b share at least one point.
func Intersects(a, b Box) bool {
	for i := range a.Min {
		if a.Min[i] > b.Max[i] || a.Max[i] < b.Min[i] {
			return false
		}
	}
	return true
}

// Overlap returns the volume of the intersection of a and b.
func Overlap(a, b Box) float64 {
	v := 1.0
	for i := range a.Min {
		lo := math.Max(a.Min[i], b.Min[i])
		hi := math.Min(a.Max[i], b.Max[i])
		if hi <= lo {
			return 0
		}
		v *= hi - lo
	}
	return v
}

// Enlargement returns how much volume existing must grow by to accommodate additional.
func Enlargement(existing, additional Box) float64 {
	return Union(existing, additional).Volume() - existing.Volume()
}

// Contains reports whether o lies completely inside b.
func (b Box) Contains(o Box) bool {
	for i := range b.Min {
		if o.Min[i] < b.Min[i] || o.Max[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// ContainsPoint reports whether p lies inside b.
func (b Box) ContainsPoint(p []float64) bool {
	for i := range b.Min {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}
