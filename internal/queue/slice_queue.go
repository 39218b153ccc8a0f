package queue

// sliceQueue implements the Queue interface using a slice.
type sliceQueue[T any] struct {
	items []T
	head  int
}

var _ Queue[int] = (*sliceQueue[int])(nil)

// NewSliceQueue creates a new slice backed queue with room for prealloc items.
func NewSliceQueue[T any](prealloc int) Queue[T] {
	return &sliceQueue[T]{items: make([]T, 0, prealloc)}
}

// Enqueue adds items to the tail of the queue.
func (q *sliceQueue[T]) Enqueue(items ...T) {
	q.items = append(q.items, items...)
}

// Dequeue removes and returns the item at the head of the queue.
func (q *sliceQueue[T]) Dequeue() (T, bool) {
	var zero T
	if q.IsEmpty() {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// compact once the consumed prefix dominates the backing array
	if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
func (q *sliceQueue[T]) Peek() (T, bool) {
	if q.IsEmpty() {
		var zero T
		return zero, false
	}

	return q.items[q.head], true
}

// Reset resets the queue to an empty state, reusing the underlying array.
func (q *sliceQueue[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *sliceQueue[T]) IsEmpty() bool {
	return q.Length() == 0
}

// Length returns the number of items in the queue.
func (q *sliceQueue[T]) Length() int {
	return len(q.items) - q.head
}
