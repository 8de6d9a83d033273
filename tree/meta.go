package tree

import (
	"encoding/binary"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/pagefile"
)

const (
	metaMagic   uint32 = 0x54524545 // "TREE"
	metaVersion uint8  = 1
	metaSize           = 36

	// MetaPage is the page holding the tree metadata.
	MetaPage pagefile.PageID = 0
)

// Kind identifies the tree flavor stored in a page file.
type Kind uint8

const (
	KindRStar Kind = 1
	KindMTree Kind = 2
)

// String returns a string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindRStar:
		return "rstar"
	case KindMTree:
		return "mtree"
	default:
		return "unknown"
	}
}

// Meta is the content of the metadata page.
type Meta struct {
	Kind     Kind
	Root     pagefile.PageID
	Height   int
	Dim      int
	Capacity int
	MinFill  int
	Size     uint64
}

func (m Meta) encode(payload []byte) {
	binary.LittleEndian.PutUint32(payload[0:], metaMagic)
	payload[4] = uint8(m.Kind)
	payload[5] = metaVersion
	binary.LittleEndian.PutUint16(payload[6:], 0)
	binary.LittleEndian.PutUint32(payload[8:], uint32(m.Root))
	binary.LittleEndian.PutUint32(payload[12:], uint32(m.Height))
	binary.LittleEndian.PutUint32(payload[16:], uint32(m.Dim))
	binary.LittleEndian.PutUint32(payload[20:], uint32(m.Capacity))
	binary.LittleEndian.PutUint32(payload[24:], uint32(m.MinFill))
	binary.LittleEndian.PutUint64(payload[28:], m.Size)
}

func decodeMeta(payload []byte) (Meta, error) {
	if len(payload) < metaSize {
		return Meta{}, index.NewCorruptPageError("open", uint32(MetaPage), "metadata of %d bytes is truncated", len(payload))
	}
	if magic := binary.LittleEndian.Uint32(payload); magic != metaMagic {
		return Meta{}, index.NewCorruptPageError("open", uint32(MetaPage), "bad metadata magic %#x", magic)
	}
	if v := payload[5]; v != metaVersion {
		return Meta{}, index.NewCorruptPageError("open", uint32(MetaPage), "unsupported metadata version %d", v)
	}

	m := Meta{
		Kind:     Kind(payload[4]),
		Root:     pagefile.PageID(binary.LittleEndian.Uint32(payload[8:])),
		Height:   int(binary.LittleEndian.Uint32(payload[12:])),
		Dim:      int(binary.LittleEndian.Uint32(payload[16:])),
		Capacity: int(binary.LittleEndian.Uint32(payload[20:])),
		MinFill:  int(binary.LittleEndian.Uint32(payload[24:])),
		Size:     binary.LittleEndian.Uint64(payload[28:]),
	}
	if m.Capacity < minCapacity || m.MinFill < 1 || m.MinFill > m.Capacity/2 || m.Height < 1 {
		return Meta{}, index.NewCorruptPageError("open", uint32(MetaPage), "inconsistent metadata %+v", m)
	}
	return m, nil
}
