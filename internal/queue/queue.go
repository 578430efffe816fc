// Package queue implements the in-memory buffer between log producers and
// the sink's scheduler.
package queue

import "sync"

// Queue is a FIFO that is safe for many producers and one consumer. A limit
// of zero means unbounded. Enqueue never waits for the consumer: a full or
// closed queue rejects the newest item instead.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	limit  int
	closed bool
}

func New[T any](limit int) *Queue[T] {
	if limit < 0 {
		limit = 0
	}
	return &Queue[T]{limit: limit}
}

// Enqueue appends v and reports whether it was accepted.
func (q *Queue[T]) Enqueue(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.limit > 0 && len(q.items)-q.head >= q.limit {
		return false
	}

	q.items = append(q.items, v)
	return true
}

// TryDequeue removes and returns the oldest item, if any.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}

	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return v, true
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close makes every later Enqueue fail. Pending items can still be dequeued.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
