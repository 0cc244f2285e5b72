package queue

import (
	"context"
	"errors"
)

// DefaultCapacity is the capacity used when New is given a non-positive size.
const DefaultCapacity = 1000

// ErrShutdown is returned by Get when the consumed entry is a shutdown sentinel.
var ErrShutdown = errors.New("queue: shutdown signal received")

// envelope carries either an item or a shutdown sentinel.
type envelope[T any] struct {
	item     T
	shutdown bool
}

// Queue is a bounded, blocking, multi-producer multi-consumer queue.
// Producers block while the queue is full.
type Queue[T any] struct {
	ch chan envelope[T]
}

// New creates a queue holding at most capacity entries.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{ch: make(chan envelope[T], capacity)}
}

// Put enqueues item, blocking until there is room or ctx is done.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	return q.put(ctx, envelope[T]{item: item})
}

// PutShutdown enqueues one shutdown sentinel. Each consumer exits after
// reading exactly one sentinel, so a pool of N consumers needs N calls.
func (q *Queue[T]) PutShutdown(ctx context.Context) error {
	return q.put(ctx, envelope[T]{shutdown: true})
}

func (q *Queue[T]) put(ctx context.Context, e envelope[T]) error {
	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next entry, blocking until one is available or ctx is done.
// Returns ErrShutdown when the entry is a shutdown sentinel.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case e := <-q.ch:
		if e.shutdown {
			return zero, ErrShutdown
		}
		return e.item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len returns the number of queued entries, sentinels included.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}
