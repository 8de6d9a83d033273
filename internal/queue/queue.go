// Package queue implements the binary heaps used by best-first tree search
// and bounded neighbor collection.
package queue

// Heap is a value-based binary heap ordered by less.
// It does NOT implement container/heap to avoid interface overhead.
type Heap[T any] struct {
	less  func(a, b T) bool
	items []T
}

// New creates a heap whose top is the element for which less reports true
// against every other element.
func New[T any](less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{
		less:  less,
		items: make([]T, 0, 16),
	}
}

// Len returns the number of elements in the heap.
func (h *Heap[T]) Len() int {
	return len(h.items)
}

// Reset clears the heap for reuse.
func (h *Heap[T]) Reset() {
	h.items = h.items[:0]
}

// Top returns the top element of the heap.
func (h *Heap[T]) Top() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (h *Heap[T]) Push(item T) {
	h.items = append(h.items, item)
	h.siftUp(len(h.items) - 1)
}

// Pop removes and returns the top element from the heap.
func (h *Heap[T]) Pop() (T, bool) {
	n := len(h.items)
	if n == 0 {
		var zero T
		return zero, false
	}

	item := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]

	if len(h.items) > 0 {
		h.siftDown(0)
	}

	return item, true
}

// ReplaceTop overwrites the top element and restores the heap invariant.
func (h *Heap[T]) ReplaceTop(item T) {
	if len(h.items) == 0 {
		h.Push(item)
		return
	}
	h.items[0] = item
	h.siftDown(0)
}

// Items returns the heap contents in heap order. The slice is shared.
func (h *Heap[T]) Items() []T {
	return h.items
}

func (h *Heap[T]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(h.items[i], h.items[parent]) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Heap[T]) siftDown(i int) {
	n := len(h.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		right := left + 1
		if right < n && h.less(h.items[right], h.items[left]) {
			child = right
		}
		if !h.less(h.items[child], h.items[i]) {
			break
		}
		h.items[i], h.items[child] = h.items[child], h.items[i]
		i = child
	}
}
