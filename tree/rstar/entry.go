package rstar

import (
	"encoding/binary"
	"math"

	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/spatial"
	"github.com/hupe1980/treeindex/tree"
)

// Entry is a node entry. Directory entries have a valid Child; leaf
// entries have Child == pagefile.NoPage and a point Box.
type Entry struct {
	Child pagefile.PageID
	ID    model.DBID
	Box   spatial.Box
}

// IsLeaf reports whether e references an object.
func (e Entry) IsLeaf() bool { return e.Child == pagefile.NoPage }

// Point returns the key of a leaf entry.
func (e Entry) Point() []float64 { return e.Box.Min }

func leafEntry(id model.DBID, point []float64) Entry {
	return Entry{Child: pagefile.NoPage, ID: id, Box: spatial.PointBox(point)}
}

func childOf(e Entry) pagefile.PageID { return e.Child }

func boxes(entries []Entry) []spatial.Box {
	out := make([]spatial.Box, len(entries))
	for i, e := range entries {
		out[i] = e.Box
	}
	return out
}

func mbr(entries []Entry) spatial.Box {
	return spatial.UnionAll(boxes(entries))
}

// entryCodec encodes [child u32][id u32][min dim×f64][max dim×f64].
type entryCodec struct{ dim int }

func newEntryCodec(dim int) tree.EntryCodec[Entry] { return entryCodec{dim: dim} }

func (c entryCodec) EntrySize() int { return 8 + 16*c.dim }

func (c entryCodec) PutEntry(buf []byte, e Entry) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(e.Child))
	binary.LittleEndian.PutUint32(buf[4:], uint32(e.ID))
	off := 8
	for _, v := range e.Box.Min {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
		off += 8
	}
	for _, v := range e.Box.Max {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
		off += 8
	}
}

func (c entryCodec) Entry(buf []byte) (Entry, error) {
	e := Entry{
		Child: pagefile.PageID(binary.LittleEndian.Uint32(buf[0:])),
		ID:    model.DBID(binary.LittleEndian.Uint32(buf[4:])),
	}
	coords := make([]float64, 2*c.dim)
	for i := range coords {
		coords[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8+8*i:]))
	}
	e.Box = spatial.Box{Min: coords[:c.dim:c.dim], Max: coords[c.dim:]}
	return e, nil
}
