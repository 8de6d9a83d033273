package mtree

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/tree"
)

// Entry is a node entry. Leaf entries (Child == pagefile.NoPage) hold an
// object and Radius 0. Directory entries hold the routing object of the
// child page and the covering radius of that subtree.
type Entry struct {
	Child pagefile.PageID
	// ID is the object id, or the id of the object promoted as routing object.
	ID model.DBID
	// ParentDist is the distance from Key to the routing object of the
	// enclosing node. It is 0 in the root.
	ParentDist float64
	Radius     float64
	Key        []float64
}

// IsLeaf reports whether e references an object.
func (e Entry) IsLeaf() bool { return e.Child == pagefile.NoPage }

// reach is the largest distance from the routing object of the enclosing
// node to anything below e.
func (e Entry) reach() float64 { return e.ParentDist + e.Radius }

func leafEntry(id model.DBID, key []float64) Entry {
	return Entry{Child: pagefile.NoPage, ID: id, Key: key}
}

func childOf(e Entry) pagefile.PageID { return e.Child }

// coverRadius returns the covering radius of entries around their routing
// object, assuming ParentDist is relative to it.
func coverRadius(entries []Entry) float64 {
	var r float64
	for _, e := range entries {
		r = max(r, e.reach())
	}
	return r
}

var errNegativeDistance = errors.New("negative or NaN distance")

// entryCodec encodes [child u32][id u32][parentDist f64][radius f64][key dim×f64].
type entryCodec struct{ dim int }

func newEntryCodec(dim int) tree.EntryCodec[Entry] { return entryCodec{dim: dim} }

func (c entryCodec) EntrySize() int { return 24 + 8*c.dim }

func (c entryCodec) PutEntry(buf []byte, e Entry) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(e.Child))
	binary.LittleEndian.PutUint32(buf[4:], uint32(e.ID))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(e.ParentDist))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(e.Radius))
	for i, v := range e.Key {
		binary.LittleEndian.PutUint64(buf[24+8*i:], math.Float64bits(v))
	}
}

func (c entryCodec) Entry(buf []byte) (Entry, error) {
	e := Entry{
		Child:      pagefile.PageID(binary.LittleEndian.Uint32(buf[0:])),
		ID:         model.DBID(binary.LittleEndian.Uint32(buf[4:])),
		ParentDist: math.Float64frombits(binary.LittleEndian.Uint64(buf[8:])),
		Radius:     math.Float64frombits(binary.LittleEndian.Uint64(buf[16:])),
		Key:        make([]float64, c.dim),
	}
	for i := range e.Key {
		e.Key[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[24+8*i:]))
	}
	if e.ParentDist < 0 || e.Radius < 0 || math.IsNaN(e.ParentDist) || math.IsNaN(e.Radius) {
		return Entry{}, errNegativeDistance
	}
	return e, nil
}
