package queue

import (
	"context"
	"sync"
)

// Blocking is a bounded, goroutine-safe FIFO with a blocking Pop.
//
// Close wakes every waiter; after Close, Push fails with ErrClosed and Pop drains the
// remaining items before returning ErrClosed.
type Blocking[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	q        Queue[T]
	capacity int
	closed   bool
}

// NewBlocking creates a Blocking queue. A capacity <= 0 means unbounded.
func NewBlocking[T any](capacity int) *Blocking[T] {
	prealloc := capacity
	if prealloc <= 0 || prealloc > 64 {
		prealloc = 64
	}
	b := &Blocking[T]{q: NewSliceQueue[T](prealloc), capacity: capacity}
	b.cond = sync.NewCond(&b.mu)

	return b
}

// Push appends item without blocking.
func (b *Blocking[T]) Push(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.capacity > 0 && b.q.Length() >= b.capacity {
		return ErrFull
	}
	b.q.Enqueue(item)
	b.cond.Signal()

	return nil
}

// Pop removes the head item, waiting until one is available, the queue is closed,
// or ctx is done.
func (b *Blocking[T]) Pop(ctx context.Context) (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	for {
		if item, ok := b.q.Dequeue(); ok {
			return item, nil
		}

		var zero T
		if b.closed {
			return zero, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		b.cond.Wait()
	}
}

// Len returns the number of queued items.
func (b *Blocking[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.q.Length()
}

// Cap returns the capacity, 0 when unbounded.
func (b *Blocking[T]) Cap() int {
	return b.capacity
}

// Items returns a copy of the queued items in FIFO order.
func (b *Blocking[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.q.Items()
}

// Drain removes and returns all queued items.
func (b *Blocking[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.q.Items()
	b.q.Reset()

	return items
}

// Close marks the queue closed and wakes all waiters. It is idempotent.
func (b *Blocking[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Reopen makes a closed queue accept items again.
func (b *Blocking[T]) Reopen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = false
}

// IsClosed reports whether Close was called without a later Reopen.
func (b *Blocking[T]) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}
