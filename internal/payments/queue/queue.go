package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrFull is returned by Enqueue when the queue is at capacity.
var ErrFull = errors.New("queue is full")

// Queue is a bounded FIFO whose consumers acknowledge items with TaskDone.
// Join waits until every accepted item has been both dequeued and
// acknowledged, which makes the drained state observable to readers that
// need a stable view, such as the summary path.
type Queue[T any] struct {
	items chan T

	mu      sync.Mutex
	pending int
	settled chan struct{}
}

func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{items: make(chan T, capacity)}
}

// Enqueue accepts item or returns ErrFull. It never blocks.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case q.items <- item:
		if q.pending == 0 {
			q.settled = make(chan struct{})
		}
		q.pending++
		return nil
	default:
		return ErrFull
	}
}

// Dequeue blocks until an item is available or ctx is done. The second
// return value is false only when ctx expired first. Each successful
// Dequeue must be paired with exactly one TaskDone.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, bool) {
	select {
	case item := <-q.items:
		return item, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// TaskDone acknowledges one previously dequeued item.
func (q *Queue[T]) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		return
	}
	q.pending--
	if q.pending == 0 {
		close(q.settled)
		q.settled = nil
	}
}

// Join blocks until all accepted items have been acknowledged or the
// timeout elapses. It reports whether the queue drained and how many
// items were still outstanding when it returned.
func (q *Queue[T]) Join(timeout time.Duration) (bool, int) {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return true, 0
	}
	settled := q.settled
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-settled:
		return true, 0
	case <-timer.C:
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.pending == 0, q.pending
	}
}

// Len reports how many items are waiting to be dequeued.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Pending reports how many accepted items have not been acknowledged yet,
// including items currently being worked on.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}
