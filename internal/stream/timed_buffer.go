package stream

import (
	"sync"
	"time"
)

// TimedBuffer accumulates upstream items without forwarding them. Each
// Flush releases everything collected since the previous Flush as a single
// batch, in arrival order.
//
// The engine calls Flush once per Period. Flushing with nothing pending is a
// no-op, so two consecutive flushes with no arrivals in between emit at most
// one batch.
type TimedBuffer[T any] struct {
	period time.Duration

	// mu guards pending. It is held only for the append and the swap, never
	// while the batch travels downstream.
	mu      sync.Mutex
	pending []T

	out *node[[]T]
}

// NewTimedBuffer attaches a buffer to s that is drained every period.
func NewTimedBuffer[T any](s Stream[T], period time.Duration) *TimedBuffer[T] {
	b := &TimedBuffer[T]{
		period: period,
		out:    newNode[[]T](),
	}
	s.n.subscribe(b.add)
	return b
}

func (b *TimedBuffer[T]) add(v T) {
	b.mu.Lock()
	b.pending = append(b.pending, v)
	b.mu.Unlock()
}

// Stream returns the batch stream.
func (b *TimedBuffer[T]) Stream() Stream[[]T] {
	return Stream[[]T]{n: b.out}
}

// Subscribers returns the number of callbacks on the batch stream.
func (b *TimedBuffer[T]) Subscribers() int {
	return len(b.out.subscribers)
}

// Period returns the flush period. It never changes.
func (b *TimedBuffer[T]) Period() time.Duration {
	return b.period
}

// Pending returns the number of buffered items.
func (b *TimedBuffer[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush swaps the pending items for an empty buffer and emits them as one
// batch. Does nothing when nothing is pending.
func (b *TimedBuffer[T]) Flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.out.publish(batch)
}
