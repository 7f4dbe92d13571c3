// Package blockheap implements the per-inode logical-block reordering heap
// described by the engine: a fixed-capacity binary min-heap keyed by logical
// block number, holding an opaque value pointer per key. There are no ties —
// logical blocks are unique within one inode — so the heap never needs a
// secondary ordering.
package blockheap

import "fmt"

type elem struct {
	key   uint64
	value interface{}
}

// Heap is a fixed-capacity binary min-heap. It is not safe for concurrent
// use; the engine only ever touches one inode's heap from its single
// reassembler goroutine.
type Heap struct {
	elems []elem
}

// New creates a heap with room for exactly capacity elements. Capacity is
// sized by the caller from the owning inode's block count (plus one, so it
// is never zero even for a single-block file); inserting beyond it is a
// programmer error, not a runtime condition to recover from.
func New(capacity int) *Heap {
	return &Heap{elems: make([]elem, 0, capacity)}
}

// Size returns the number of elements currently held.
func (h *Heap) Size() int {
	return len(h.elems)
}

// Insert adds a (key, value) pair. It panics if the heap is already at
// capacity — an inode that received more blocks than its heap was sized for
// indicates a bug in the scanner's accounting, not a recoverable condition.
func (h *Heap) Insert(key uint64, value interface{}) {
	if len(h.elems) == cap(h.elems) {
		panic(fmt.Sprintf("blockheap: insertion of key %d exceeds capacity %d", key, cap(h.elems)))
	}
	h.elems = append(h.elems, elem{key: key, value: value})
	h.heapifyUp(len(h.elems) - 1)
}

// PeekMin returns the value with the smallest key without removing it.
// Calling it on an empty heap panics.
func (h *Heap) PeekMin() interface{} {
	return h.elems[0].value
}

// MinKey returns the smallest key currently held, without removing it.
// Calling it on an empty heap panics.
func (h *Heap) MinKey() uint64 {
	return h.elems[0].key
}

// DelMin removes and returns the value with the smallest key. Calling it on
// an empty heap panics.
func (h *Heap) DelMin() interface{} {
	min := h.elems[0].value

	last := len(h.elems) - 1
	h.elems[0] = h.elems[last]
	h.elems = h.elems[:last]

	h.heapifyDown(0)

	return min
}

func (h *Heap) heapifyUp(index int) {
	for index > 0 {
		parent := (index - 1) / 2
		if h.elems[index].key < h.elems[parent].key {
			h.elems[index], h.elems[parent] = h.elems[parent], h.elems[index]
			index = parent
		} else {
			break
		}
	}
}

func (h *Heap) heapifyDown(index int) {
	n := len(h.elems)
	for index < n {
		smallest := index
		left := 2*index + 1
		right := 2*index + 2

		if left < n && h.elems[left].key < h.elems[smallest].key {
			smallest = left
		}
		if right < n && h.elems[right].key < h.elems[smallest].key {
			smallest = right
		}

		if smallest == index {
			break
		}

		h.elems[index], h.elems[smallest] = h.elems[smallest], h.elems[index]
		index = smallest
	}
}

// Verify reports whether the min-heap property holds, for use in tests.
func (h *Heap) Verify() bool {
	n := len(h.elems)
	for i := 0; i < n; i++ {
		left := 2*i + 1
		right := 2*i + 2
		if left < n && h.elems[left].key < h.elems[i].key {
			return false
		}
		if right < n && h.elems[right].key < h.elems[i].key {
			return false
		}
	}
	return true
}
