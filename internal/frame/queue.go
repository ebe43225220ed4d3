package frame

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained.
var ErrQueueClosed = errors.New("frame queue closed")

// DropFunc is called with each item evicted to make room, outside the lock.
type DropFunc[T any] func(item T)

// Queue is a bounded FIFO between one producer and one consumer. When full,
// Push evicts the oldest item so the consumer always works on recent data;
// items are never reordered.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int // next read position
	size   int
	closed bool
	onDrop DropFunc[T]

	ready chan struct{} // signalled when an item is pushed or the queue closes
}

// NewQueue returns a queue holding at most capacity items. A capacity below
// 1 is treated as 1.
func NewQueue[T any](capacity int, onDrop DropFunc[T]) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:  make([]T, capacity),
		onDrop: onDrop,
		ready:  make(chan struct{}, 1),
	}
}

// Push appends item, evicting the oldest item if the queue is full. It
// reports false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	var (
		dropped    T
		hasDropped bool
	)
	if q.size == len(q.items) {
		var zero T
		dropped, hasDropped = q.items[q.head], true
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.size--
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.mu.Unlock()

	q.signal()
	if hasDropped && q.onDrop != nil {
		q.onDrop(dropped)
	}
	return true
}

// Pop removes the oldest item, waiting until one is available, the queue is
// closed and empty, or ctx ends.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.size > 0 {
			item := q.items[q.head]
			q.items[q.head] = zero
			q.head = (q.head + 1) % len(q.items)
			q.size--
			more := q.size > 0 || q.closed
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.items)
}

// Close stops accepting items. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
