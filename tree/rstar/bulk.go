package rstar

import (
	"cmp"
	"math"
	"slices"
)

// BulkSplit partitions a complete entry set into node-sized groups for
// bulk loading. Every group holds between minFill and capacity entries
// unless there is only one.
type BulkSplit interface {
	Partition(entries []Entry, minFill, capacity int) [][]Entry
}

// SortTileRecursive is the STR bulk split: entries are sorted by center on
// the first axis, cut into slabs, and each slab is tiled recursively on the
// remaining axes.
type SortTileRecursive struct{}

// Partition implements BulkSplit.
func (SortTileRecursive) Partition(entries []Entry, minFill, capacity int) [][]Entry {
	if len(entries) == 0 {
		return nil
	}
	items := make([]strItem, len(entries))
	for i, e := range entries {
		items[i] = strItem{e: e, center: e.Box.Center()}
	}

	var groups [][]Entry
	strTile(items, 0, entries[0].Box.Dim(), capacity, &groups)
	return balance(groups, minFill, capacity)
}

type strItem struct {
	e      Entry
	center []float64
}

func strTile(items []strItem, axis, dim, capacity int, out *[][]Entry) {
	slices.SortStableFunc(items, func(a, b strItem) int {
		return cmp.Compare(a.center[axis], b.center[axis])
	})

	if axis == dim-1 {
		for start := 0; start < len(items); start += capacity {
			end := min(start+capacity, len(items))
			g := make([]Entry, 0, end-start)
			for _, it := range items[start:end] {
				g = append(g, it.e)
			}
			*out = append(*out, g)
		}
		return
	}

	pages := int(math.Ceil(float64(len(items)) / float64(capacity)))
	slabs := int(math.Ceil(math.Pow(float64(pages), 1/float64(dim-axis))))
	slabSize := int(math.Ceil(float64(pages)/float64(slabs))) * capacity
	for start := 0; start < len(items); start += slabSize {
		end := min(start+slabSize, len(items))
		strTile(items[start:end], axis+1, dim, capacity, out)
	}
}

// balance moves entries between neighboring groups so that no group falls
// below minFill.
func balance(groups [][]Entry, minFill, capacity int) [][]Entry {
	for i := 0; i < len(groups) && len(groups) > 1; i++ {
		if len(groups[i]) >= minFill {
			continue
		}
		j := i - 1
		if j < 0 {
			j = i + 1
		}
		a, b := groups[min(i, j)], groups[max(i, j)]
		if len(a)+len(b) <= capacity {
			groups[min(i, j)] = append(slices.Clone(a), b...)
			groups = slices.Delete(groups, max(i, j), max(i, j)+1)
			i = -1
			continue
		}
		need := minFill - len(groups[i])
		if i > j {
			// Borrow from the tail of the previous group.
			moved := a[len(a)-need:]
			groups[i] = append(slices.Clone(moved), b...)
			groups[j] = a[:len(a)-need]
		} else {
			moved := b[:need]
			groups[i] = append(slices.Clone(a), moved...)
			groups[j] = b[need:]
		}
	}
	return groups
}

// HilbertCurve orders entries by the Hilbert curve index of their centers
// and cuts the order into consecutive groups of capacity entries. Centers
// are quantized to hilbertBits bits per axis over the bounding box of all
// centers.
type HilbertCurve struct{}

const hilbertBits = 16

// Partition implements BulkSplit.
func (HilbertCurve) Partition(entries []Entry, minFill, capacity int) [][]Entry {
	if len(entries) == 0 {
		return nil
	}
	dim := entries[0].Box.Dim()
	centers := make([][]float64, len(entries))
	lo := slices.Repeat([]float64{math.Inf(1)}, dim)
	hi := slices.Repeat([]float64{math.Inf(-1)}, dim)
	for i, e := range entries {
		c := e.Box.Center()
		centers[i] = c
		for d, v := range c {
			lo[d] = min(lo[d], v)
			hi[d] = max(hi[d], v)
		}
	}

	type keyed struct {
		e   Entry
		key []uint64
	}
	items := make([]keyed, len(entries))
	cell := make([]uint32, dim)
	for i, c := range centers {
		for d, v := range c {
			cell[d] = quantize(v, lo[d], hi[d])
		}
		items[i] = keyed{e: entries[i], key: hilbertIndex(cell, hilbertBits)}
	}
	slices.SortStableFunc(items, func(a, b keyed) int {
		return slices.Compare(a.key, b.key)
	})

	var groups [][]Entry
	for start := 0; start < len(items); start += capacity {
		end := min(start+capacity, len(items))
		g := make([]Entry, 0, end-start)
		for _, it := range items[start:end] {
			g = append(g, it.e)
		}
		groups = append(groups, g)
	}
	return balance(groups, minFill, capacity)
}

func quantize(v, lo, hi float64) uint32 {
	if hi <= lo {
		return 0
	}
	const top = 1<<hilbertBits - 1
	return uint32(math.Round((v - lo) / (hi - lo) * top))
}

// hilbertIndex returns the Hilbert index of the cell x, each coordinate
// using the low bits bits. The index is packed most significant bit
// first, so keys of equal dimension compare with slices.Compare.
// x is overwritten.
func hilbertIndex(x []uint32, bits int) []uint64 {
	n := len(x)
	m := uint32(1) << (bits - 1)

	// Transpose the axes into Hilbert order (Skilling, 2004).
	for q := m; q > 1; q >>= 1 {
		p := q - 1
		for i := 0; i < n; i++ {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t := (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}
	for i := 1; i < n; i++ {
		x[i] ^= x[i-1]
	}
	var t uint32
	for q := m; q > 1; q >>= 1 {
		if x[n-1]&q != 0 {
			t ^= q - 1
		}
	}
	for i := range x {
		x[i] ^= t
	}

	key := make([]uint64, (n*bits+63)/64)
	pos := 0
	for b := bits - 1; b >= 0; b-- {
		for i := 0; i < n; i++ {
			if x[i]>>b&1 != 0 {
				key[pos/64] |= 1 << (63 - pos%64)
			}
			pos++
		}
	}
	return key
}
