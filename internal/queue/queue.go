// Package queue provides the queues shared between link producers and execution units.
package queue

import "errors"

var (
	// ErrClosed is returned when pushing to, or waiting on, a closed queue.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned when pushing to a queue at capacity.
	ErrFull = errors.New("queue full")
)

// Queue defines the interface of a plain, not goroutine-safe FIFO queue.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(item T)
	// Dequeue removes and returns the item at the head of the queue.
	Dequeue() (T, bool)
	// Peek returns the item at the head of the queue without removing it.
	Peek() (T, bool)
	// Items returns a copy of the queued items in FIFO order.
	Items() []T
	// Reset to an empty queue
	Reset()
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
}
