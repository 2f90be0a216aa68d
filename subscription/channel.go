package subscription

import (
	"context"
	"sync/atomic"
)

// dispatchQueue carries loaned messages from the taking goroutine to
// workers.
type dispatchQueue[T any] struct {
	channel chan T
	context context.Context
	closed  atomic.Int32
}

func newDispatchQueue[T any](ctx context.Context, depth int) *dispatchQueue[T] {
	return &dispatchQueue[T]{
		channel: make(chan T, depth),
		context: ctx,
	}
}

func (q *dispatchQueue[T]) send(ctx context.Context, item T) error {
	select {
	case q.channel <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.context.Done():
		return q.context.Err()
	}
}

// receive blocks until an item arrives or the queue is closed and empty.
// Cancellation is signalled by closing the queue, so workers finish what
// was already accepted.
func (q *dispatchQueue[T]) receive() (T, bool) {
	item, ok := <-q.channel
	return item, ok
}

func (q *dispatchQueue[T]) close() {
	if q.closed.CompareAndSwap(0, 1) {
		close(q.channel)
	}
}
