package utils

import "container/heap"

// Entry is an element of a HeapMap.
type Entry[K comparable, V, P any] struct {
	Key      K
	Value    V
	Priority P
	index    int
}

/*
HeapMap is a priority queue whose elements are addressed by key: pushing an existing key replaces its value and priority instead of adding a second element.

The element with the lowest priority according to the comparator comes out first. It is not safe for concurrent use.
*/
type HeapMap[K comparable, V, P any] struct {
	entries entryHeap[K, V, P]
	byKey   map[K]*Entry[K, V, P]
}

// NewHeapMap creates an empty heap-map. before(a, b) reports whether priority a comes out before priority b.
func NewHeapMap[K comparable, V, P any](before func(a, b P) bool) *HeapMap[K, V, P] {
	return &HeapMap[K, V, P]{
		entries: entryHeap[K, V, P]{before: before},
		byKey:   make(map[K]*Entry[K, V, P]),
	}
}

// Len returns the number of elements.
func (h *HeapMap[K, V, P]) Len() int {
	return len(h.entries.items)
}

// Contains reports whether an element with the given key is queued.
func (h *HeapMap[K, V, P]) Contains(key K) bool {
	_, ok := h.byKey[key]
	return ok
}

// Push queues value under key, or moves the element already queued under key.
func (h *HeapMap[K, V, P]) Push(key K, value V, priority P) {
	if e, ok := h.byKey[key]; ok {
		e.Value, e.Priority = value, priority
		heap.Fix(&h.entries, e.index)
		return
	}

	e := &Entry[K, V, P]{Key: key, Value: value, Priority: priority}
	h.byKey[key] = e
	heap.Push(&h.entries, e)
}

// Peek returns the first element without removing it.
func (h *HeapMap[K, V, P]) Peek() (Entry[K, V, P], bool) {
	if h.Len() == 0 {
		return Entry[K, V, P]{}, false
	}
	return *h.entries.items[0], true
}

// Pop removes and returns the first element.
func (h *HeapMap[K, V, P]) Pop() (Entry[K, V, P], bool) {
	if h.Len() == 0 {
		return Entry[K, V, P]{}, false
	}

	e := heap.Pop(&h.entries).(*Entry[K, V, P])
	delete(h.byKey, e.Key)
	return *e, true
}

// entryHeap implements heap.Interface, keeping each entry's index up to date for heap.Fix.
type entryHeap[K comparable, V, P any] struct {
	items  []*Entry[K, V, P]
	before func(a, b P) bool
}

func (h entryHeap[K, V, P]) Len() int { return len(h.items) }

func (h entryHeap[K, V, P]) Less(i, j int) bool {
	return h.before(h.items[i].Priority, h.items[j].Priority)
}

func (h entryHeap[K, V, P]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *entryHeap[K, V, P]) Push(x any) {
	e := x.(*Entry[K, V, P])
	e.index = len(h.items)
	h.items = append(h.items, e)
}

func (h *entryHeap[K, V, P]) Pop() any {
	last := len(h.items) - 1
	e := h.items[last]
	h.items[last] = nil
	h.items = h.items[:last]
	return e
}
