package queue

import (
	"container/heap"
	"context"
	"sync"
)

// LessFunc reports whether a must be dequeued before b.
type LessFunc[T any] func(a, b T) bool

// Priority is a bounded, goroutine-safe priority queue for many producers and one or more
// consumers.
//
// A single condition variable signals both "item available" and "queue closed", so a
// consumer blocked in Pop is always woken by Close.
type Priority[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	h        *itemHeap[T]
	capacity int
	closed   bool
}

// NewPriority creates a priority queue ordered by less. A capacity <= 0 means unbounded.
func NewPriority[T any](capacity int, less LessFunc[T]) *Priority[T] {
	q := &Priority[T]{
		h:        &itemHeap[T]{less: less},
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Push inserts item without blocking.
func (q *Priority[T]) Push(item T) error {
	_, err := q.PushWith(func(bool) T { return item })
	return err
}

// PushWith builds the item under the queue lock and inserts it.
//
// build receives whether the queue is empty at insertion time, which lets callers derive
// ordering keys that depend on the queue state without racing other producers. build is
// not called when the queue is closed or full.
func (q *Priority[T]) PushWith(build func(empty bool) T) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.closed {
		return zero, ErrClosed
	}
	if q.capacity > 0 && q.h.Len() >= q.capacity {
		return zero, ErrFull
	}

	item := build(q.h.Len() == 0)
	heap.Push(q.h, item)
	q.cond.Signal()

	return item, nil
}

// Pop removes the highest priority item, waiting until one is available, the queue is
// closed, or ctx is done. A closed queue returns ErrClosed even if items remain.
func (q *Priority[T]) Pop(ctx context.Context) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	var zero T
	for {
		if q.closed {
			return zero, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if q.h.Len() > 0 {
			item, _ := heap.Pop(q.h).(T)
			return item, nil
		}
		q.cond.Wait()
	}
}

// TryPop removes the highest priority item if one is available.
func (q *Priority[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		var zero T
		return zero, false
	}
	item, _ := heap.Pop(q.h).(T)

	return item, true
}

// Len returns the number of queued items.
func (q *Priority[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.h.Len()
}

// Cap returns the capacity, 0 when unbounded.
func (q *Priority[T]) Cap() int {
	return q.capacity
}

// Items returns the queued items in dequeue order without removing them.
func (q *Priority[T]) Items() []T {
	q.mu.Lock()
	clone := &itemHeap[T]{less: q.h.less, items: make([]T, len(q.h.items))}
	copy(clone.items, q.h.items)
	q.mu.Unlock()

	out := make([]T, 0, clone.Len())
	for clone.Len() > 0 {
		item, _ := heap.Pop(clone).(T)
		out = append(out, item)
	}

	return out
}

// Drain removes and returns all queued items in dequeue order.
func (q *Priority[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.h.Len())
	for q.h.Len() > 0 {
		item, _ := heap.Pop(q.h).(T)
		out = append(out, item)
	}

	return out
}

// Close marks the queue closed and wakes all waiters. It is idempotent.
func (q *Priority[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Reopen makes a closed queue accept items again.
func (q *Priority[T]) Reopen() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = false
}

// IsClosed reports whether Close was called without a later Reopen.
func (q *Priority[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.closed
}

// itemHeap adapts a slice to container/heap.
type itemHeap[T any] struct {
	items []T
	less  LessFunc[T]
}

func (h *itemHeap[T]) Len() int           { return len(h.items) }
func (h *itemHeap[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *itemHeap[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *itemHeap[T]) Push(x any) {
	item, _ := x.(T)
	h.items = append(h.items, item)
}

func (h *itemHeap[T]) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	var zero T
	h.items[n-1] = zero
	h.items = h.items[:n-1]

	return item
}
