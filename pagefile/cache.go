package pagefile

import (
	"cmp"
	"container/list"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/treeindex/index"
)

// Codec converts cached values to and from page payloads.
type Codec[T any] interface {
	// Encode writes v into payload, which has length PayloadSize.
	Encode(v T, payload []byte) error

	// Decode parses the payload of page id.
	Decode(id PageID, payload []byte) (T, error)
}

// CacheStats counts page cache activity.
type CacheStats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	// Overflows counts frames materialized while every frame was pinned.
	Overflows uint64
	Resident  int
	Pinned    int
	Capacity  int
}

type frame[T any] struct {
	id    PageID
	value T
	pins  int
	dirty bool
}

// Cache is an LRU cache of decoded pages fronting a PageFile.
type Cache[T any] struct {
	mu       sync.Mutex
	file     PageFile
	codec    Codec[T]
	capacity int
	frames   map[PageID]*list.Element
	lru      *list.List // front = most recently used
	stats    CacheStats
	logger   *slog.Logger
	closed   bool
}

// CacheOption configures a Cache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	logger *slog.Logger
}

// WithCacheLogger sets the cache logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(o *cacheOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewCache creates a cache holding up to capacity unpinned frames.
func NewCache[T any](file PageFile, codec Codec[T], capacity int, optFns ...CacheOption) (*Cache[T], error) {
	if capacity < 1 {
		return nil, &index.ConfigError{Field: "CacheCapacity", Value: capacity, Reason: "must be at least 1"}
	}
	o := cacheOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, fn := range optFns {
		fn(&o)
	}

	return &Cache[T]{
		file:     file,
		codec:    codec,
		capacity: capacity,
		frames:   make(map[PageID]*list.Element, capacity),
		lru:      list.New(),
		logger:   o.logger,
	}, nil
}

// File returns the underlying page file.
func (c *Cache[T]) File() PageFile { return c.file }

// Handle is a pinned cache frame. Release must be called exactly once.
type Handle[T any] struct {
	c        *Cache[T]
	f        *frame[T]
	released bool
}

// ID returns the page id.
func (h *Handle[T]) ID() PageID { return h.f.id }

// Value returns the cached value.
func (h *Handle[T]) Value() T { return h.f.value }

// Set replaces the cached value and marks the frame dirty.
func (h *Handle[T]) Set(v T) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.f.value = v
	h.f.dirty = true
}

// MarkDirty schedules the frame for write-back.
func (h *Handle[T]) MarkDirty() {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.f.dirty = true
}

// Release unpins the frame. Further calls are no-ops.
func (h *Handle[T]) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.f.pins--
}

// Pin returns a pinned handle for id, reading and decoding the page on a miss.
func (c *Cache[T]) Pin(id PageID) (*Handle[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed("pin")
	}

	if el, ok := c.frames[id]; ok {
		c.stats.Hits++
		c.lru.MoveToFront(el)
		f := el.Value.(*frame[T])
		f.pins++
		return &Handle[T]{c: c, f: f}, nil
	}

	c.stats.Misses++
	payload, err := c.file.Read(id)
	if err != nil {
		return nil, err
	}
	v, err := c.codec.Decode(id, payload)
	if err != nil {
		return nil, err
	}

	f, err := c.insert(id, v, false)
	if err != nil {
		return nil, err
	}
	return &Handle[T]{c: c, f: f}, nil
}

// PinNew installs v for a freshly allocated page id as a dirty, pinned frame.
func (c *Cache[T]) PinNew(id PageID, v T) (*Handle[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed("pin")
	}

	if el, ok := c.frames[id]; ok {
		f := el.Value.(*frame[T])
		if f.pins > 0 {
			return nil, &index.PageError{Op: "pin", Page: uint32(id), Kind: index.ErrInvalidState, Err: fmt.Errorf("page is pinned")}
		}
		c.lru.Remove(el)
		delete(c.frames, id)
	}

	f, err := c.insert(id, v, true)
	if err != nil {
		return nil, err
	}
	return &Handle[T]{c: c, f: f}, nil
}

// Allocate allocates a page in the file and pins v as its content.
func (c *Cache[T]) Allocate(v T) (*Handle[T], error) {
	id, err := c.file.Allocate()
	if err != nil {
		return nil, err
	}
	h, err := c.PinNew(id, v)
	if err != nil {
		_ = c.file.Free(id)
		return nil, err
	}
	return h, nil
}

// Free drops the frame of id without write-back and frees the page.
// The page must not be pinned.
func (c *Cache[T]) Free(id PageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed("free")
	}

	if el, ok := c.frames[id]; ok {
		if f := el.Value.(*frame[T]); f.pins > 0 {
			return &index.PageError{Op: "free", Page: uint32(id), Kind: index.ErrInvalidState, Err: fmt.Errorf("page is pinned")}
		}
		c.lru.Remove(el)
		delete(c.frames, id)
	}
	return c.file.Free(id)
}

// insert adds a pinned frame, evicting unpinned frames first. Caller holds mu.
func (c *Cache[T]) insert(id PageID, v T, dirty bool) (*frame[T], error) {
	if err := c.makeRoom(); err != nil {
		return nil, err
	}
	f := &frame[T]{id: id, value: v, pins: 1, dirty: dirty}
	c.frames[id] = c.lru.PushFront(f)
	return f, nil
}

// makeRoom evicts least recently used unpinned frames until one more frame
// fits. If only pinned frames remain, the cache overflows.
func (c *Cache[T]) makeRoom() error {
	for len(c.frames) >= c.capacity {
		victim := c.lru.Back()
		for victim != nil && victim.Value.(*frame[T]).pins > 0 {
			victim = victim.Prev()
		}
		if victim == nil {
			c.stats.Overflows++
			c.logger.Debug("page cache overflow", "resident", len(c.frames), "capacity", c.capacity)
			return nil
		}

		f := victim.Value.(*frame[T])
		if f.dirty {
			if err := c.writeBack(f); err != nil {
				return err
			}
		}
		c.lru.Remove(victim)
		delete(c.frames, f.id)
		c.stats.Evictions++
	}
	return nil
}

func (c *Cache[T]) writeBack(f *frame[T]) error {
	buf := make([]byte, c.file.PayloadSize())
	if err := c.codec.Encode(f.value, buf); err != nil {
		return fmt.Errorf("encode %v: %w", f.id, err)
	}
	if err := c.file.Write(f.id, buf); err != nil {
		return err
	}
	f.dirty = false
	c.stats.Writebacks++
	return nil
}

// Flush writes every dirty frame, pinned or not, in page id order and syncs
// the page file.
func (c *Cache[T]) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed("flush")
	}
	return c.flushLocked()
}

func (c *Cache[T]) flushLocked() error {
	dirty := make([]*frame[T], 0)
	for _, el := range c.frames {
		if f := el.Value.(*frame[T]); f.dirty {
			dirty = append(dirty, f)
		}
	}
	slices.SortFunc(dirty, func(a, b *frame[T]) int {
		return cmp.Compare(a.id, b.id)
	})
	for _, f := range dirty {
		if err := c.writeBack(f); err != nil {
			return err
		}
	}
	return c.file.Sync()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[T]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Resident = len(c.frames)
	s.Capacity = c.capacity
	for _, el := range c.frames {
		if el.Value.(*frame[T]).pins > 0 {
			s.Pinned++
		}
	}
	return s
}

// Close flushes dirty frames and closes the page file. The page file is
// closed even if the flush fails.
func (c *Cache[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	flushErr := c.flushLocked()
	c.frames = nil
	c.lru.Init()
	if err := c.file.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}
