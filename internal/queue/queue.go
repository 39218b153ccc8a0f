// Package queue provides the FIFO containers used by backlogs and mailboxes.
//
// Implementations are not safe for concurrent use; callers guard them with
// their own lock, which is also the lock their condition variables wait on.
package queue

// Queue defines the interface for a FIFO queue.
type Queue[T any] interface {
	// Enqueue adds items to the tail of the queue, preserving their order.
	Enqueue(items ...T)
	// Dequeue removes and returns the item at the head of the queue.
	// ok is false when the queue is empty.
	Dequeue() (item T, ok bool)
	// Peek returns the item at the head of the queue without removing it.
	Peek() (item T, ok bool)
	// Reset to an empty queue
	Reset()
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
}
