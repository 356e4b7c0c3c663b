// Package queue provides a bounded FIFO used as the pending event queue.
//
// The queue is a fixed-capacity ring. When it is full the oldest entries are
// evicted, both on Push (new entry at the tail) and on Prepend (entries put
// back at the head after a failed delivery, which are by definition the oldest).
package queue

import "sync"

// DefaultCapacity is used when New is given a non-positive capacity
const DefaultCapacity = 1000

// Queue is a thread-safe bounded FIFO with drop-oldest eviction
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // index of the oldest entry
	size     int
	capacity int
	dropped  int64 // total entries evicted
}

// New creates a queue holding at most capacity entries
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item at the tail and returns the number of entries evicted to make room (0 or 1)
func (q *Queue[T]) Push(item T) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := 0
	if q.size == q.capacity {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % q.capacity
		q.size--
		evicted = 1
		q.dropped++
	}
	q.buf[(q.head+q.size)%q.capacity] = item
	q.size++
	return evicted
}

// Prepend puts items back at the head, keeping their order, so that items[0]
// becomes the oldest entry. If the queue cannot hold all of them the leading
// (oldest) items are discarded. Returns the number discarded.
func (q *Queue[T]) Prepend(items []T) int {
	if len(items) == 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := 0
	if free := q.capacity - q.size; len(items) > free {
		evicted = len(items) - free
		items = items[evicted:]
		q.dropped += int64(evicted)
	}
	for i := len(items) - 1; i >= 0; i-- {
		q.head = (q.head - 1 + q.capacity) % q.capacity
		q.buf[q.head] = items[i]
		q.size++
	}
	return evicted
}

// TakeAll removes and returns every entry, oldest first. Returns nil when empty.
func (q *Queue[T]) TakeAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}
	out := q.snapshotLocked()
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head = 0
	q.size = 0
	return out
}

// Snapshot returns a copy of the entries, oldest first, without removing them
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue[T]) snapshotLocked() []T {
	out := make([]T, q.size)
	for i := 0; i < q.size; i++ {
		out[i] = q.buf[(q.head+i)%q.capacity]
	}
	return out
}

// Len returns the number of queued entries
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Dropped returns the total number of entries evicted since creation
func (q *Queue[T]) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
