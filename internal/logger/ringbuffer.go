package logger

import "sync"

// RingBuffer is a fixed-capacity, thread-safe history that drops the oldest
// item when full.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	count int
}

// NewRingBuffer creates a ring buffer holding at most capacity items.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Push appends item, evicting the oldest item when the buffer is full.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.items)
	if r.count < size {
		r.items[(r.start+r.count)%size] = item
		r.count++
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % size
}

// GetAll returns the buffered items from oldest to newest.
func (r *RingBuffer[T]) GetAll() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.items[(r.start+i)%len(r.items)])
	}
	return out
}

// Len returns the number of buffered items.
func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear drops every buffered item.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start, r.count = 0, 0
}
