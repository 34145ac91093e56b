// Package queue provides the sentinel-aware FIFO shared between the blocking
// dispatch goroutine and the cooperative collector loop.
package queue

import (
	"context"
	"fmt"
	"sync/atomic"
)

// message is the tagged union carried internally: a payload or the
// end-of-stream marker. The marker replaces an identity sentinel so no
// private singleton is needed.
type message[T any] struct {
	item     T
	shutdown bool
}

// Queue is a FIFO with drain-all semantics. Capacity is fixed at
// construction; callers size it so that puts never block for the run
// (the dispatch pipeline bounds outstanding items by the request count).
//
// The shutdown marker must be the last message a producer ever pushes.
type Queue[T any] struct {
	ch   chan message[T]
	done atomic.Bool
}

// New constructs a Queue with the provided capacity.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		ch: make(chan message[T], capacity),
	}
}

// Put pushes items in order, or returns early if the context ends.
func (q *Queue[T]) Put(ctx context.Context, items ...T) error {
	for _, item := range items {
		select {
		case <-ctx.Done():
			return fmt.Errorf("queue put canceled: %w", ctx.Err())
		case q.ch <- message[T]{item: item}:
		}
	}
	return nil
}

// Shutdown pushes the end-of-stream marker. Producers must not Put after
// signaling shutdown.
func (q *Queue[T]) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown canceled: %w", ctx.Err())
	case q.ch <- message[T]{shutdown: true}:
		return nil
	}
}

// Drain blocks until at least one message is available, then non-blockingly
// collects everything else currently queued. It returns the drained items and
// whether the shutdown marker was observed. A drain that begins with the
// marker returns (nil, true) immediately; nothing ever follows the marker.
// Once shutdown has been observed, subsequent calls return (nil, true)
// without blocking.
func (q *Queue[T]) Drain(ctx context.Context) ([]T, bool, error) {
	if q.done.Load() {
		return nil, true, nil
	}

	var first message[T]
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("queue drain canceled: %w", ctx.Err())
	case first = <-q.ch:
	}
	if first.shutdown {
		q.done.Store(true)
		return nil, true, nil
	}

	items := []T{first.item}
	for {
		select {
		case msg := <-q.ch:
			if msg.shutdown {
				q.done.Store(true)
				return items, true, nil
			}
			items = append(items, msg.item)
		default:
			return items, false, nil
		}
	}
}
