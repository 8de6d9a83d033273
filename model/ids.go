package model

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// DBID identifies an object of a relation.
type DBID uint32

// String returns a string representation of the DBID.
func (id DBID) String() string {
	return fmt.Sprintf("DBID(%d)", uint32(id))
}

// DBIDs is a mutable set of object ids.
// The zero value is not usable; use NewDBIDs.
type DBIDs struct {
	bm *roaring.Bitmap
}

// NewDBIDs creates a set containing ids.
func NewDBIDs(ids ...DBID) *DBIDs {
	s := &DBIDs{bm: roaring.New()}
	for _, id := range ids {
		s.bm.Add(uint32(id))
	}
	return s
}

// DBIDsFromBitmap wraps an existing bitmap. The set takes ownership of bm.
func DBIDsFromBitmap(bm *roaring.Bitmap) *DBIDs {
	if bm == nil {
		bm = roaring.New()
	}
	return &DBIDs{bm: bm}
}

// Add inserts id and reports whether it was not already present.
func (s *DBIDs) Add(id DBID) bool {
	return s.bm.CheckedAdd(uint32(id))
}

// Remove deletes id and reports whether it was present.
func (s *DBIDs) Remove(id DBID) bool {
	return s.bm.CheckedRemove(uint32(id))
}

// Contains reports whether id is in the set.
func (s *DBIDs) Contains(id DBID) bool {
	return s.bm.Contains(uint32(id))
}

// Len returns the number of ids in the set.
func (s *DBIDs) Len() int {
	return int(s.bm.GetCardinality())
}

// IsEmpty reports whether the set is empty.
func (s *DBIDs) IsEmpty() bool {
	return s.bm.IsEmpty()
}

// Slice returns the ids in ascending order.
func (s *DBIDs) Slice() []DBID {
	out := make([]DBID, 0, s.bm.GetCardinality())
	it := s.bm.Iterator()
	for it.HasNext() {
		out = append(out, DBID(it.Next()))
	}
	return out
}

// ForEach calls fn for every id in ascending order until fn returns false.
func (s *DBIDs) ForEach(fn func(id DBID) bool) {
	it := s.bm.Iterator()
	for it.HasNext() {
		if !fn(DBID(it.Next())) {
			return
		}
	}
}

// Clone returns an independent copy of the set.
func (s *DBIDs) Clone() *DBIDs {
	return &DBIDs{bm: s.bm.Clone()}
}

// AddAll inserts every id of other.
func (s *DBIDs) AddAll(other *DBIDs) {
	s.bm.Or(other.bm)
}

// RemoveAll deletes every id of other.
func (s *DBIDs) RemoveAll(other *DBIDs) {
	s.bm.AndNot(other.bm)
}

// Difference returns a new set holding the ids of s that are not in other.
func (s *DBIDs) Difference(other *DBIDs) *DBIDs {
	return &DBIDs{bm: roaring.AndNot(s.bm, other.bm)}
}

// Intersects reports whether s and other share at least one id.
func (s *DBIDs) Intersects(other *DBIDs) bool {
	return s.bm.Intersects(other.bm)
}

// Equals reports whether both sets hold the same ids.
func (s *DBIDs) Equals(other *DBIDs) bool {
	return s.bm.Equals(other.bm)
}

// Bitmap exposes the underlying bitmap. Callers must not mutate it.
func (s *DBIDs) Bitmap() *roaring.Bitmap {
	return s.bm
}
