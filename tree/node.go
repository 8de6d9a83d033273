package tree

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/pagefile"
)

const (
	nodeHeaderSize = 8

	flagDirectory uint8 = 0
	flagLeaf      uint8 = 1
)

// Node is a leaf or directory node holding entries of type E.
type Node[E any] struct {
	ID      pagefile.PageID
	Leaf    bool
	Parent  pagefile.PageID
	Entries []E
}

// NewNode returns an empty node with room for capacity+1 entries, the
// transient overflow state before a split.
func NewNode[E any](id pagefile.PageID, leaf bool, parent pagefile.PageID, capacity int) *Node[E] {
	return &Node[E]{
		ID:      id,
		Leaf:    leaf,
		Parent:  parent,
		Entries: make([]E, 0, capacity+1),
	}
}

// Len returns the number of entries.
func (n *Node[E]) Len() int { return len(n.Entries) }

// Add appends e.
func (n *Node[E]) Add(e E) { n.Entries = append(n.Entries, e) }

// Remove deletes the entry at i, keeping the order of the others.
func (n *Node[E]) Remove(i int) E {
	e := n.Entries[i]
	n.Entries = slices.Delete(n.Entries, i, i+1)
	return e
}

// Reset replaces all entries.
func (n *Node[E]) Reset(entries []E) {
	n.Entries = append(n.Entries[:0], entries...)
}

// EntryCodec encodes entries of a tree flavor into fixed-size slots.
type EntryCodec[E any] interface {
	// EntrySize returns the encoded size of one entry.
	EntrySize() int

	// PutEntry encodes e into buf, which has length EntrySize.
	PutEntry(buf []byte, e E)

	// Entry decodes one entry from buf.
	Entry(buf []byte) (E, error)
}

// NodeCodec is the page codec for nodes of a fixed capacity.
type NodeCodec[E any] struct {
	entries  EntryCodec[E]
	capacity int
}

var _ pagefile.Codec[*Node[int]] = NodeCodec[int]{}

// NewNodeCodec creates a node codec.
func NewNodeCodec[E any](entries EntryCodec[E], capacity int) NodeCodec[E] {
	return NodeCodec[E]{entries: entries, capacity: capacity}
}

// NodeSize returns the encoded size of a full node.
func (c NodeCodec[E]) NodeSize() int {
	return nodeHeaderSize + c.capacity*c.entries.EntrySize()
}

// Encode writes n into payload.
func (c NodeCodec[E]) Encode(n *Node[E], payload []byte) error {
	if len(n.Entries) > c.capacity {
		return fmt.Errorf("%w: node %v holds %d entries, capacity is %d", index.ErrInvalidState, n.ID, len(n.Entries), c.capacity)
	}
	size := c.entries.EntrySize()
	if need := nodeHeaderSize + len(n.Entries)*size; need > len(payload) {
		return fmt.Errorf("%w: node %v needs %d bytes, payload has %d", index.ErrInvalidState, n.ID, need, len(payload))
	}

	flag := flagDirectory
	if n.Leaf {
		flag = flagLeaf
	}
	payload[0] = flag
	payload[1] = 0
	binary.LittleEndian.PutUint16(payload[2:], uint16(len(n.Entries)))
	binary.LittleEndian.PutUint32(payload[4:], uint32(n.Parent))

	off := nodeHeaderSize
	for _, e := range n.Entries {
		c.entries.PutEntry(payload[off:off+size], e)
		off += size
	}
	return nil
}

// Decode reads the node stored on page id. Payloads with an unknown flag,
// a count above capacity, or too few bytes fail with index.ErrCorruptPage.
func (c NodeCodec[E]) Decode(id pagefile.PageID, payload []byte) (*Node[E], error) {
	if len(payload) < nodeHeaderSize {
		return nil, index.NewCorruptPageError("decode", uint32(id), "payload of %d bytes is shorter than the node header", len(payload))
	}

	flag := payload[0]
	if flag != flagLeaf && flag != flagDirectory {
		return nil, index.NewCorruptPageError("decode", uint32(id), "unknown node flag %d", flag)
	}
	count := int(binary.LittleEndian.Uint16(payload[2:]))
	if count > c.capacity {
		return nil, index.NewCorruptPageError("decode", uint32(id), "entry count %d exceeds capacity %d", count, c.capacity)
	}
	size := c.entries.EntrySize()
	if need := nodeHeaderSize + count*size; need > len(payload) {
		return nil, index.NewCorruptPageError("decode", uint32(id), "%d entries need %d bytes, payload has %d", count, need, len(payload))
	}

	n := NewNode[E](id, flag == flagLeaf, pagefile.PageID(binary.LittleEndian.Uint32(payload[4:])), c.capacity)
	off := nodeHeaderSize
	for i := 0; i < count; i++ {
		e, err := c.entries.Entry(payload[off : off+size])
		if err != nil {
			return nil, index.NewCorruptPageError("decode", uint32(id), "entry %d: %v", i, err)
		}
		n.Entries = append(n.Entries, e)
		off += size
	}
	return n, nil
}
