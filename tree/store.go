package tree

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/pagefile"
)

// DefaultCachePages is the default number of node frames held by a Store.
const DefaultCachePages = 256

type options struct {
	cachePages int
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*options)

// WithCachePages sets the number of node frames kept in the page cache.
func WithCachePages(n int) Option {
	return func(o *options) {
		o.cachePages = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Store gives a tree flavor pinned access to its nodes and keeps the
// metadata page. It is not safe for concurrent mutation; trees serialize
// writers with their own lock.
type Store[E any] struct {
	file      pagefile.PageFile
	cache     *pagefile.Cache[*Node[E]]
	codec     NodeCodec[E]
	entries   EntryCodec[E]
	meta      Meta
	metaDirty bool
	logger    *slog.Logger
}

// Open opens the tree stored in file, or creates an empty one if the file
// has no pages. newEntries returns the entry codec for a dimensionality.
//
// Reopening with a Dim different from the stored one fails with
// index.ErrUnsupportedOperation.
func Open[E any](file pagefile.PageFile, kind Kind, cfg Config, newEntries func(dim int) EntryCodec[E], optFns ...Option) (*Store[E], error) {
	o := options{
		cachePages: DefaultCachePages,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range optFns {
		fn(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PageSize != 0 && cfg.PageSize != file.PageSize() {
		return nil, &index.ConfigError{Field: "PageSize", Value: cfg.PageSize, Reason: fmt.Sprintf("page file uses %d", file.PageSize())}
	}

	s := &Store[E]{file: file, logger: o.logger}
	var err error
	if file.NumPages() == 0 {
		err = s.create(kind, cfg, newEntries)
	} else {
		err = s.load(kind, cfg, newEntries)
	}
	if err != nil {
		return nil, err
	}

	s.codec = NewNodeCodec(s.entries, s.meta.Capacity)
	s.cache, err = pagefile.NewCache[*Node[E]](file, s.codec, o.cachePages, pagefile.WithCacheLogger(o.logger))
	if err != nil {
		return nil, err
	}

	if s.meta.Root == pagefile.NoPage {
		h, err := s.NewNode(true, pagefile.NoPage)
		if err != nil {
			return nil, err
		}
		s.meta.Root = h.ID()
		h.Release()
		if err := s.Flush(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store[E]) create(kind Kind, cfg Config, newEntries func(dim int) EntryCodec[E]) error {
	if cfg.Dim < 1 {
		return &index.ConfigError{Field: "Dim", Value: cfg.Dim, Reason: "must be positive for a new tree"}
	}
	s.entries = newEntries(cfg.Dim)
	capacity, err := cfg.ResolveCapacity(s.file.PayloadSize(), s.entries.EntrySize())
	if err != nil {
		return err
	}
	minFill, err := MinFill(capacity, cfg.RelativeMinFill)
	if err != nil {
		return err
	}

	id, err := s.file.Allocate()
	if err != nil {
		return err
	}
	if id != MetaPage {
		return fmt.Errorf("%w: metadata allocated on %v", index.ErrInvalidState, id)
	}

	s.meta = Meta{Kind: kind, Root: pagefile.NoPage, Height: 1, Dim: cfg.Dim, Capacity: capacity, MinFill: minFill}
	s.metaDirty = true
	s.logger.Debug("created tree", "kind", kind, "dim", cfg.Dim, "capacity", capacity, "min_fill", minFill)
	return nil
}

func (s *Store[E]) load(kind Kind, cfg Config, newEntries func(dim int) EntryCodec[E]) error {
	payload, err := s.file.Read(MetaPage)
	if err != nil {
		return err
	}
	meta, err := decodeMeta(payload)
	if err != nil {
		return err
	}
	if meta.Kind != kind {
		return &index.ConfigError{Field: "Kind", Value: kind, Reason: fmt.Sprintf("page file holds a %s tree", meta.Kind)}
	}
	if cfg.Dim != 0 && cfg.Dim != meta.Dim {
		return &index.ErrDimensionMismatch{Expected: meta.Dim, Actual: cfg.Dim}
	}
	if cfg.Capacity != 0 && cfg.Capacity != meta.Capacity {
		return fmt.Errorf("%w: capacity is fixed at %d", index.ErrUnsupportedOperation, meta.Capacity)
	}

	s.entries = newEntries(meta.Dim)
	if _, err := (Config{Capacity: meta.Capacity}).ResolveCapacity(s.file.PayloadSize(), s.entries.EntrySize()); err != nil {
		return index.NewCorruptPageError("open", uint32(MetaPage), "%v", err)
	}
	if meta.Root == pagefile.NoPage || int(meta.Root) >= s.file.NumPages() {
		return index.NewCorruptPageError("open", uint32(MetaPage), "root %v out of range", meta.Root)
	}

	s.meta = meta
	s.logger.Debug("opened tree", "kind", kind, "dim", meta.Dim, "height", meta.Height, "size", meta.Size)
	return nil
}

// Meta returns a copy of the metadata.
func (s *Store[E]) Meta() Meta { return s.meta }

func (s *Store[E]) Root() pagefile.PageID { return s.meta.Root }
func (s *Store[E]) Height() int           { return s.meta.Height }
func (s *Store[E]) Size() uint64          { return s.meta.Size }
func (s *Store[E]) Dim() int              { return s.meta.Dim }
func (s *Store[E]) Capacity() int         { return s.meta.Capacity }
func (s *Store[E]) MinFill() int          { return s.meta.MinFill }

// Codec returns the node codec.
func (s *Store[E]) Codec() NodeCodec[E] { return s.codec }

// SetRoot records a new root and tree height.
func (s *Store[E]) SetRoot(id pagefile.PageID, height int) {
	s.meta.Root = id
	s.meta.Height = height
	s.metaDirty = true
}

// AddSize adjusts the object count.
func (s *Store[E]) AddSize(delta int) {
	s.meta.Size = uint64(int64(s.meta.Size) + int64(delta))
	s.metaDirty = true
}

// Pin pins node id. The handle must be released on every path.
func (s *Store[E]) Pin(id pagefile.PageID) (*pagefile.Handle[*Node[E]], error) {
	return s.cache.Pin(id)
}

// NewNode allocates a page and pins an empty node on it.
func (s *Store[E]) NewNode(leaf bool, parent pagefile.PageID) (*pagefile.Handle[*Node[E]], error) {
	id, err := s.file.Allocate()
	if err != nil {
		return nil, err
	}
	h, err := s.cache.PinNew(id, NewNode[E](id, leaf, parent, s.meta.Capacity))
	if err != nil {
		return nil, errors.Join(err, s.file.Free(id))
	}
	return h, nil
}

// FreeNode releases the page of an unpinned node.
func (s *Store[E]) FreeNode(id pagefile.PageID) error {
	return s.cache.Free(id)
}

// SetParent rewrites the parent pointer of node id.
func (s *Store[E]) SetParent(id, parent pagefile.PageID) error {
	h, err := s.cache.Pin(id)
	if err != nil {
		return err
	}
	defer h.Release()
	if n := h.Value(); n.Parent != parent {
		n.Parent = parent
		h.MarkDirty()
	}
	return nil
}

// Walk visits every node depth-first, parents before children. childOf
// reports the child page of a directory entry. fn must not keep the node.
func (s *Store[E]) Walk(childOf func(E) pagefile.PageID, fn func(n *Node[E], depth int) error) error {
	return s.walk(s.meta.Root, 0, childOf, fn)
}

func (s *Store[E]) walk(id pagefile.PageID, depth int, childOf func(E) pagefile.PageID, fn func(n *Node[E], depth int) error) error {
	h, err := s.cache.Pin(id)
	if err != nil {
		return err
	}
	n := h.Value()
	if err := fn(n, depth); err != nil {
		h.Release()
		return err
	}
	var children []pagefile.PageID
	if !n.Leaf {
		children = make([]pagefile.PageID, 0, n.Len())
		for _, e := range n.Entries {
			children = append(children, childOf(e))
		}
	}
	h.Release()

	for _, c := range children {
		if err := s.walk(c, depth+1, childOf, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store[E]) writeMeta() error {
	payload := make([]byte, s.file.PayloadSize())
	s.meta.encode(payload)
	if err := s.file.Write(MetaPage, payload); err != nil {
		return err
	}
	s.metaDirty = false
	return nil
}

// CheckWritable fails with index.ErrUnsupportedOperation if the page file
// is read-only.
func (s *Store[E]) CheckWritable() error {
	if pagefile.IsReadOnly(s.file) {
		return fmt.Errorf("%w: page file is read-only", index.ErrUnsupportedOperation)
	}
	return nil
}

// Flush writes the metadata and every dirty node, then syncs the file.
func (s *Store[E]) Flush() error {
	if s.metaDirty {
		if err := s.writeMeta(); err != nil {
			return err
		}
	}
	return s.cache.Flush()
}

// Close flushes and closes the cache and the page file.
func (s *Store[E]) Close() error {
	var metaErr error
	if s.metaDirty {
		metaErr = s.writeMeta()
	}
	return errors.Join(metaErr, s.cache.Close())
}

// CacheStats returns the page cache counters.
func (s *Store[E]) CacheStats() pagefile.CacheStats { return s.cache.Stats() }

// IOStats returns the page file counters.
func (s *Store[E]) IOStats() pagefile.IOStats { return s.file.Stats() }
